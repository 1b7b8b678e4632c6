package provider

// ArtifactProvider says where kubectl release artifacts are downloaded
// from. An empty base URL means the official artifact host.
type ArtifactProvider interface {
	BaseURL() string
}

type DefaultArtifactProvider struct{}

var _ ArtifactProvider = (*DefaultArtifactProvider)(nil)

func (p *DefaultArtifactProvider) BaseURL() string {
	return ""
}

// StaticArtifactProvider points downloads at a fixed mirror.
type StaticArtifactProvider struct {
	URL string
}

var _ ArtifactProvider = (*StaticArtifactProvider)(nil)

func (p *StaticArtifactProvider) BaseURL() string {
	return p.URL
}
