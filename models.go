package kpnc

import (
	"encoding/json"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Store keys
// ---------------------------------------------------------------------------

const (
	// KeyToken is the store key of the current push registration token.
	KeyToken = "token"
	// KeyUserID is the store key of the account identifier.
	KeyUserID = "user_id"
	// KeyInstanceAddress is the store key of the account's server instance.
	KeyInstanceAddress = "instance_address"
)

// ---------------------------------------------------------------------------
// Account identifiers
// ---------------------------------------------------------------------------

const (
	// MinAccountIDLength and MaxAccountIDLength bound a valid account id.
	MinAccountIDLength = 3
	MaxAccountIDLength = 128
)

// IsAccountIDValid reports whether id may be sent in a registration request.
func IsAccountIDValid(id string) bool {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return false
	}
	return len(trimmed) >= MinAccountIDLength && len(trimmed) <= MaxAccountIDLength
}

// ---------------------------------------------------------------------------
// Request / response models
// ---------------------------------------------------------------------------

// UpdateTokenRequest is the request body for POST /update_firebase_token.
type UpdateTokenRequest struct {
	UserID        string `json:"user_id"`
	FirebaseToken string `json:"firebase_token"`
}

// AccountInfoRequest is the request body for POST /get_account_info.
type AccountInfoRequest struct {
	UserID string `json:"user_id"`
}

// AccountInfoResponse is the data part of the /get_account_info response.
type AccountInfoResponse struct {
	IsValid    bool   `json:"is_valid"`
	ValidUntil *int64 `json:"valid_until,omitempty"`
}

// WatchPostRequest is the request body for POST /watch_post.
type WatchPostRequest struct {
	UserID  string `json:"user_id"`
	PostURL string `json:"post_url"`
}

// SendTestPushRequest is the request body for POST /send_test_push.
type SendTestPushRequest struct {
	UserID string `json:"user_id"`
}

// DefaultSuccessResponse is returned by endpoints that only acknowledge.
type DefaultSuccessResponse struct {
	Success bool `json:"success"`
}

// ServerResponse is the {data, error} wrapper used by every KPNC endpoint
// that returns a payload.
type ServerResponse[T any] struct {
	Data  *T      `json:"data,omitempty"`
	Error *string `json:"error,omitempty"`
}

// AccountInfo is the decoded account status.
type AccountInfo struct {
	IsValid    bool
	ValidUntil time.Time
}

// HasExpiry reports whether the server sent a positive expiry timestamp.
func (a AccountInfo) HasExpiry() bool {
	return !a.ValidUntil.IsZero()
}

func newAccountInfo(resp *AccountInfoResponse) *AccountInfo {
	info := &AccountInfo{IsValid: resp.IsValid}
	if resp.ValidUntil != nil && *resp.ValidUntil > 0 {
		info.ValidUntil = time.UnixMilli(*resp.ValidUntil).UTC()
	}
	return info
}

// ---------------------------------------------------------------------------
// Push payloads
// ---------------------------------------------------------------------------

// NewRepliesMessage is the JSON carried in the body of a reply push message.
type NewRepliesMessage struct {
	NewReplyURLs []string `json:"new_reply_urls"`
}

// ---------------------------------------------------------------------------
// External action results
// ---------------------------------------------------------------------------

// AppAPIVersion is reported to consumer applications by get_info.
const AppAPIVersion = 1

// InfoResult is the data part of a get_info result.
type InfoResult struct {
	AppAPIVersion  int  `json:"app_api_version"`
	IsAccountValid bool `json:"is_account_valid"`
}

// GenericResult is the {data, error} envelope returned to consumer
// applications for external actions.
type GenericResult struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}
