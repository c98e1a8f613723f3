package context

type Key string

const (
	Claims    Key = "claims"
	Params    Key = "params"
	APIKey    Key = "api_key"
	RateLimit Key = "rate_limit"
	ClientIP  Key = "client_ip"
)
