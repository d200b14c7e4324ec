package session

import "context"

// Provider obtains a fresh cookie jar from an external source, typically a
// headless browser driving the site's login page. Implementations live
// outside this module; only the capability is specified here.
type Provider interface {
	Fetch(ctx context.Context) (map[string]string, error)
}

// StaticProvider re-reads the persisted cookie file. It is the provider used
// when dynamic refresh is disabled or no browser driver is wired in.
type StaticProvider struct {
	file   *CookieFile
	domain string
}

func NewStaticProvider(file *CookieFile, domain string) *StaticProvider {
	return &StaticProvider{file: file, domain: domain}
}

func (p *StaticProvider) Fetch(ctx context.Context) (map[string]string, error) {
	return p.file.Load(p.domain)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (map[string]string, error)

func (f ProviderFunc) Fetch(ctx context.Context) (map[string]string, error) { return f(ctx) }
