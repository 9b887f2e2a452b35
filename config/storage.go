package config

import "strings"

// AudioStorageConfig configures where uploaded audio is kept.
type AudioStorageConfig struct {
	// LocalDir is the directory uploads are written to when S3 is disabled.
	LocalDir string `env:"AUDIO_LOCAL_DIR" envDefault:"./uploads"`

	S3 S3Config `envPrefix:"AUDIO_S3_"`
}

// Sanitize applies guardrails to audio storage configuration values.
func (a *AudioStorageConfig) Sanitize() {
	if a.LocalDir = strings.TrimSpace(a.LocalDir); a.LocalDir == "" {
		a.LocalDir = "./uploads"
	}
	a.S3.sanitize()
}

// S3Config contains S3-compatible object storage settings.
type S3Config struct {
	Enabled   bool   `env:"ENABLED"    envDefault:"false"`
	Bucket    string `env:"BUCKET"`
	Region    string `env:"REGION"     envDefault:"us-east-1"`
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Prefix    string `env:"PREFIX"     envDefault:"audio"`
	PathStyle bool   `env:"PATH_STYLE" envDefault:"false"`
}

func (c *S3Config) sanitize() {
	c.Bucket = strings.TrimSpace(c.Bucket)
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.Prefix = strings.Trim(strings.TrimSpace(c.Prefix), "/")
	if c.Bucket == "" {
		c.Enabled = false
	}
}
