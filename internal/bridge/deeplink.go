package bridge

import (
	"net/url"
)

// CallDeepLink encodes everything the call view needs to open directly
// into a ringing or active call.
func CallDeepLink(roomID, callType, threadID, callerName, recipientName string, isIncoming bool, callerID string) string {
	q := url.Values{}
	q.Set("call", "true")
	q.Set("type", callType)
	q.Set("threadId", threadID)
	q.Set("callerName", callerName)
	q.Set("recipientName", recipientName)
	if isIncoming {
		q.Set("isIncoming", "true")
	} else {
		q.Set("isIncoming", "false")
	}
	q.Set("callerId", callerID)
	return "/call/" + url.PathEscape(roomID) + "?" + q.Encode()
}
