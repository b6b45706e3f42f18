package dto

// RegisterRequest represents a signup request
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// CompleteConnectionRequest carries the OAuth callback parameters relayed by a client
type CompleteConnectionRequest struct {
	Code  string `json:"code" binding:"required"`
	State string `json:"state" binding:"required"`
}

// RecordsQuery holds the record listing filters
type RecordsQuery struct {
	Dataset  string `form:"dataset"`
	Provider string `form:"provider"`
	Start    string `form:"start"`
	End      string `form:"end"`
	Limit    int    `form:"limit"`
	Cursor   string `form:"cursor"`
}

// SummaryQuery holds the insights summary parameters
type SummaryQuery struct {
	RangeDays int  `form:"range_days"`
	UseAI     bool `form:"use_ai"`
}
