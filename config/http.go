package config

import "strings"

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// MaxUploadMB caps the size of multipart audio uploads.
	MaxUploadMB int64 `env:"HTTP_MAX_UPLOAD_MB" envDefault:"100"`

	// AllowedAudioExtensions lists the accepted upload file extensions.
	AllowedAudioExtensions []string `env:"HTTP_ALLOWED_AUDIO_EXTENSIONS" envDefault:".mp3,.wav,.m4a,.mp4,.webm,.ogg,.flac"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.MaxUploadMB < 1 {
		h.MaxUploadMB = 1
	}
	for i, ext := range h.AllowedAudioExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		h.AllowedAudioExtensions[i] = ext
	}
}

// MaxUploadBytes returns the upload limit in bytes.
func (h HTTPConfig) MaxUploadBytes() int64 {
	return h.MaxUploadMB << 20
}
