package domain

// Task is the queued message that hands a stored document to the worker pool
type Task struct {
	FilePath   string `json:"filepath"`
	Ext        string `json:"ext"`
	Filename   string `json:"filename"`
	JobID      string `json:"jobId"`
	ClientID   string `json:"clientId"`
	Credential string `json:"credential,omitempty"`
}

// Client is a tenant allowed to call the API
type Client struct {
	ID        string  `db:"id"`
	Name      string  `db:"name"`
	APIKey    string  `db:"api_key"`
	OpenAIKey *string `db:"openai_key"`
	Active    bool    `db:"active"`
	IsGlobal  bool    `db:"is_global"`
}

// Credential returns the tenant's own extraction key, if it has one
func (c *Client) Credential() string {
	if c.OpenAIKey == nil {
		return ""
	}
	return *c.OpenAIKey
}
