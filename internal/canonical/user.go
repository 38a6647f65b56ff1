package canonical

import "github.com/opd-ai/go-emby-bridge/internal/emby"

// User is an Emby account in canonical form. Flags are 0/1 integers.
type User struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	FriendlyName string `json:"friendly_name"`
	Email        string `json:"email"`
	IsAdmin      int    `json:"is_admin"`
	IsHomeUser   int    `json:"is_home_user"`
	IsActive     int    `json:"is_active"`
	Thumb        string `json:"thumb"`
	AllowGuest   int    `json:"allow_guest"`
	DeletedUser  int    `json:"deleted_user"`
	KeepHistory  int    `json:"keep_history"`
}

// NewUser normalizes one raw user. It returns false only when raw is nil.
// Every Emby account counts as a home user, and guests do not exist.
func NewUser(raw *emby.RawUser) (User, bool) {
	if raw == nil {
		return User{}, false
	}

	policy := raw.GetPolicy()

	return User{
		UserID:       raw.ID,
		Username:     raw.Name,
		FriendlyName: raw.Name,
		Email:        raw.Email,
		IsAdmin:      boolToInt(policy.IsAdministrator),
		IsHomeUser:   1,
		IsActive:     boolToInt(!policy.IsDisabled),
		Thumb:        userThumb(raw.ID, raw.PrimaryImageTag),
		AllowGuest:   0,
		DeletedUser:  0,
		KeepHistory:  1,
	}, true
}
