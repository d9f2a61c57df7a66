package provider

// AnthropicMaxTokens is sent when a request leaves the reply length to the
// model, since the Messages API requires an explicit cap.
const AnthropicMaxTokens = 4096

// Sampling holds the generation settings of one request. A nil field leaves
// the value to the model's own default.
type Sampling struct {
	MaxTokens   *int
	Temperature *float64
}

// ChatOption adjusts the sampling of a single request.
type ChatOption func(*Sampling)

// ReplySampling is what a request uses when no option is given.
func ReplySampling() Sampling {
	maxTokens, temperature := DefaultMaxTokens, DefaultTemperature
	return Sampling{MaxTokens: &maxTokens, Temperature: &temperature}
}

// ResolveSampling applies opts on top of ReplySampling.
func ResolveSampling(opts ...ChatOption) Sampling {
	s := ReplySampling()
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithMaxTokens caps the reply length. A non-positive n leaves the cap to
// the model.
func WithMaxTokens(n int) ChatOption {
	return func(s *Sampling) {
		if n <= 0 {
			s.MaxTokens = nil
			return
		}
		s.MaxTokens = &n
	}
}

func WithTemperature(t float64) ChatOption {
	return func(s *Sampling) { s.Temperature = &t }
}

// WithModelDefaults leaves both the reply cap and the temperature to the
// model.
func WithModelDefaults() ChatOption {
	return func(s *Sampling) { *s = Sampling{} }
}

// WithSampling replaces the settings outright.
func WithSampling(v Sampling) ChatOption {
	return func(s *Sampling) { *s = v }
}
