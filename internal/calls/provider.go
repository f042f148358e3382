package calls

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoomProvider is the call-infrastructure collaborator: it creates rooms
// and issues join tokens. Media transport is entirely its problem.
type RoomProvider interface {
	CreateRoom(ctx context.Context) (string, error)
	IssueToken(ctx context.Context, roomID string, userID uuid.UUID) (string, error)
}

// InfraClient creates rooms through the provider's HTTP API and mints
// HS256 join tokens scoped to {roomId, userId} with a shared secret, the
// way self-hosted SFU deployments expect.
type InfraClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	secret     []byte
	tokenTTL   time.Duration
}

func NewInfraClient(baseURL, apiKey string, secret []byte, tokenTTL time.Duration) *InfraClient {
	if tokenTTL == 0 {
		tokenTTL = time.Hour
	}
	return &InfraClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		secret:     secret,
		tokenTTL:   tokenTTL,
	}
}

type createRoomResponse struct {
	RoomID string `json:"room_id"`
}

func (c *InfraClient) CreateRoom(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{"name": uuid.NewString()})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rooms", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("room api returned %d: %s", resp.StatusCode, data)
	}

	var out createRoomResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("room api response: %w", err)
	}
	if out.RoomID == "" {
		return "", fmt.Errorf("room api response missing room_id")
	}
	return out.RoomID, nil
}

type joinClaims struct {
	Room string `json:"room"`
	jwt.RegisteredClaims
}

func (c *InfraClient) IssueToken(ctx context.Context, roomID string, userID uuid.UUID) (string, error) {
	if len(c.secret) == 0 {
		return "", fmt.Errorf("no token secret configured")
	}
	now := time.Now()
	claims := joinClaims{
		Room: roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}
