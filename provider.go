package transcoder

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// Provider identifies a codec implementation.
type Provider uint8

const (
	ProviderAuto     Provider = iota // Let the registry choose
	ProviderX264                     // GPL H.264 encoder
	ProviderOpenH264                 // BSD H.264 enc/dec
	ProviderLibvpx                   // BSD VP8/VP9
	ProviderExternal                 // Registered by the host application
	providerCount
)

// License represents the software license of a provider.
type License uint8

const (
	LicenseGPL License = iota // Copyleft
	LicenseBSD                // Permissive
)

// Permissive returns true if the license has no copyleft obligations.
func (l License) Permissive() bool { return l == LicenseBSD }

func (l License) String() string {
	switch l {
	case LicenseGPL:
		return "GPL"
	case LicenseBSD:
		return "BSD"
	default:
		return "unknown"
	}
}

type providerMeta struct {
	Name    string
	License License
	Encoder bool
	Decoder bool
}

var providerInfo = [providerCount]providerMeta{
	ProviderAuto:     {"auto", LicenseBSD, false, false},
	ProviderX264:     {"x264", LicenseGPL, true, false},
	ProviderOpenH264: {"openh264", LicenseBSD, true, true},
	ProviderLibvpx:   {"libvpx", LicenseBSD, true, true},
	ProviderExternal: {"external", LicenseBSD, true, true},
}

// Runtime availability, set when a provider registers itself.
var providerAvailable [providerCount]atomic.Bool

// String returns the provider name.
func (p Provider) String() string {
	if p >= providerCount {
		return "unknown"
	}
	return providerInfo[p].Name
}

// ParseProvider returns the provider with the given name.
func ParseProvider(name string) (Provider, error) {
	for p := Provider(0); p < providerCount; p++ {
		if providerInfo[p].Name == name {
			return p, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidArgument, "unknown provider %q", name)
}

// License returns the provider's license type.
func (p Provider) License() License {
	if p >= providerCount {
		return LicenseGPL
	}
	return providerInfo[p].License
}

// CanEncode returns true if the provider supports encoding.
func (p Provider) CanEncode() bool {
	return p < providerCount && providerInfo[p].Encoder
}

// CanDecode returns true if the provider supports decoding.
func (p Provider) CanDecode() bool {
	return p < providerCount && providerInfo[p].Decoder
}

// Available returns true if the provider is usable at runtime.
func (p Provider) Available() bool {
	if p >= providerCount {
		return false
	}
	return providerAvailable[p].Load()
}

func setProviderAvailable(p Provider) {
	if p < providerCount {
		providerAvailable[p].Store(true)
	}
}
