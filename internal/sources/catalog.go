// Package sources bundles the built-in passive modules.
package sources

import (
	"github.com/shii9/PassiveNio/internal/module"
	"github.com/shii9/PassiveNio/internal/sources/breach"
	"github.com/shii9/PassiveNio/internal/sources/ctlogs"
	"github.com/shii9/PassiveNio/internal/sources/dns"
	"github.com/shii9/PassiveNio/internal/sources/dorking"
	"github.com/shii9/PassiveNio/internal/sources/emailharvest"
	"github.com/shii9/PassiveNio/internal/sources/githubrecon"
	"github.com/shii9/PassiveNio/internal/sources/ipintel"
	"github.com/shii9/PassiveNio/internal/sources/pastebin"
	"github.com/shii9/PassiveNio/internal/sources/shodan"
	"github.com/shii9/PassiveNio/internal/sources/social"
	"github.com/shii9/PassiveNio/internal/sources/techfingerprint"
	"github.com/shii9/PassiveNio/internal/sources/whois"
)

// Builtin returns one fresh instance of every module in catalog order.
func Builtin() []module.Module {
	return []module.Module{
		whois.New(),
		dns.New(),
		ctlogs.New(),
		techfingerprint.New(),
		emailharvest.New(),
		githubrecon.New(),
		shodan.New(),
		breach.New(),
		social.New(),
		dorking.New(),
		pastebin.New(),
		ipintel.New(),
	}
}

// Registry builds a registry over Builtin.
func Registry() (*module.Registry, error) {
	return module.NewRegistry(Builtin()...)
}
