package sessions

import "time"

// Session is the persisted form of one authenticated client relationship
// to the upstream identity provider. The upstream credential pair is
// stored encrypted (iv:authTag:ciphertext blobs), never plaintext at rest.
type Session struct {
	ID              string    `bson:"_id" json:"id"`
	UserID          string    `bson:"userId" json:"userId"`
	Email           string    `bson:"email" json:"email"`
	AccessTokenEnc  string    `bson:"accessToken" json:"-"`
	RefreshTokenEnc string    `bson:"refreshToken" json:"-"`
	ExpiresAt       int64     `bson:"expiresAt" json:"expiresAt"` // unix seconds, upstream access token expiry
	CreatedAt       time.Time `bson:"createdAt" json:"createdAt"`
	LastUsedAt      time.Time `bson:"lastUsedAt" json:"lastUsedAt"`
	UserAgent       string    `bson:"userAgent,omitempty" json:"userAgent,omitempty"`
	IPAddress       string    `bson:"ipAddress,omitempty" json:"ipAddress,omitempty"`
	IsValid         bool      `bson:"isValid" json:"isValid"`
}

// LiveSession is a session with the credential pair decrypted for use
// within one request. Never persisted.
type LiveSession struct {
	ID           string
	UserID       string
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
	CreatedAt    time.Time
	LastUsedAt   time.Time
	UserAgent    string
	IPAddress    string
}

// Info is the token-free view used for "active sessions" listings.
type Info struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Email      string    `json:"email"`
	ExpiresAt  int64     `json:"expiresAt"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	UserAgent  string    `json:"userAgent,omitempty"`
	IPAddress  string    `json:"ipAddress,omitempty"`
}

// Stats summarizes stored sessions for monitoring.
type Stats struct {
	TotalActive  int64 `json:"totalActive"`
	TotalInvalid int64 `json:"totalInvalid"`
}

func (s *Session) info() Info {
	return Info{
		ID:         s.ID,
		UserID:     s.UserID,
		Email:      s.Email,
		ExpiresAt:  s.ExpiresAt,
		CreatedAt:  s.CreatedAt,
		LastUsedAt: s.LastUsedAt,
		UserAgent:  s.UserAgent,
		IPAddress:  s.IPAddress,
	}
}
