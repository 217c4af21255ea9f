package config

const redacted = "***"

// Redacted returns a copy of c with secrets masked, for logging.
func (c *Config) Redacted() Config {
	out := *c
	redact(&out.Database.DSN)
	redact(&out.Server.JWTSecret)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
