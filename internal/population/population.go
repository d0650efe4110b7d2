// Package population builds the fixed set of simulated users the engine
// generates traffic for. The population is constructed once per run from
// the enterprise document and is read-only during generation.
package population

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/example/shadowgen/internal/config"
	"github.com/example/shadowgen/internal/rng"
)

// Errors returned by the population package.
var (
	// ErrNoSubnets is returned when no internal subnet parses.
	ErrNoSubnets = errors.New("population: no usable internal subnets")
)

// vpnPoolSize is how many rotating VPN identities a user gets.
const vpnPoolSize = 3

// Default desktop agent pool with relative weights, used when the
// enterprise document does not override agents.
var desktopAgents = []struct {
	agent  string
	weight float64
}{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", 0.45},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0", 0.25},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15", 0.15},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0", 0.15},
}

var mobileAgents = []string{
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148",
}

// User is one simulated employee. Immutable during generation; per-day
// attempt counters live in the outcome resolver's keyed store, sharded
// for parallel access.
type User struct {
	// ID is the stable identifier randomness is keyed on.
	ID string

	// Email is first.last@domain, deduplicated across the population.
	Email string

	// FullName is the user's display name.
	FullName string

	// Class is the user's profile class, referencing the enterprise doc.
	Class *config.ProfileClass

	// SourceIP is the fixed workstation address.
	SourceIP string

	// VPNPool holds rotating VPN-style identities. Empty when the
	// enterprise has no VPN subnets.
	VPNPool []string

	// UserAgent is the user's preferred desktop agent.
	UserAgent string

	// MobileAgent is the user's mobile agent.
	MobileAgent string

	// MobileProbability is the chance a session runs on mobile.
	MobileProbability float64
}

// Username returns the local part of the user's email.
func (u *User) Username() string {
	local, _, _ := strings.Cut(u.Email, "@")
	return local
}

// Population is the full simulated user set.
type Population struct {
	Users []*User

	byID map[string]*User
}

// New builds the population deterministically from the enterprise
// document and the run seeder. Identity material (names, agents,
// addresses) comes from a seeded faker so a seed reproduces the roster.
func New(cfg *config.Enterprise, seeder *rng.Seeder) (*Population, error) {
	subnets, err := parseSubnets(cfg.Network.InternalSubnets)
	if err != nil {
		return nil, err
	}
	if len(subnets) == 0 {
		return nil, ErrNoSubnets
	}
	vpnSubnets, err := parseSubnets(cfg.Network.VPNSubnets)
	if err != nil {
		return nil, err
	}

	faker := gofakeit.New(uint64(seeder.DeriveSeed("population", "faker")))
	r := seeder.Derive("population", "roster")

	pop := &Population{
		Users: make([]*User, 0, cfg.Users.TotalCount),
		byID:  make(map[string]*User, cfg.Users.TotalCount),
	}
	seenEmails := make(map[string]int, cfg.Users.TotalCount)

	for i := 0; i < cfg.Users.TotalCount; i++ {
		class := pickClass(r, cfg.Users.Profiles)
		first := faker.FirstName()
		last := faker.LastName()

		u := &User{
			ID:                fmt.Sprintf("u%05d", i+1),
			Email:             uniqueEmail(first, last, cfg.Domain, seenEmails),
			FullName:          first + " " + last,
			Class:             class,
			SourceIP:          randomHost(r, subnets[r.Intn(len(subnets))]),
			UserAgent:         pickDesktopAgent(r),
			MobileAgent:       mobileAgents[r.Intn(len(mobileAgents))],
			MobileProbability: class.MobileProbability,
		}
		if len(vpnSubnets) > 0 {
			u.VPNPool = make([]string, vpnPoolSize)
			for j := range u.VPNPool {
				u.VPNPool[j] = randomHost(r, vpnSubnets[r.Intn(len(vpnSubnets))])
			}
		}

		pop.Users = append(pop.Users, u)
		pop.byID[u.ID] = u
	}
	return pop, nil
}

// Get returns the user with the given id, or nil.
func (p *Population) Get(id string) *User { return p.byID[id] }

// Size returns the population size.
func (p *Population) Size() int { return len(p.Users) }

// CountByClass returns how many users carry each profile class.
func (p *Population) CountByClass() map[string]int {
	counts := make(map[string]int)
	for _, u := range p.Users {
		counts[u.Class.Name]++
	}
	return counts
}

func pickClass(r *rand.Rand, profiles []config.ProfileClass) *config.ProfileClass {
	draw := r.Float64()
	cum := 0.0
	for i := range profiles {
		cum += profiles[i].Percentage
		if draw < cum {
			return &profiles[i]
		}
	}
	return &profiles[len(profiles)-1]
}

func pickDesktopAgent(r *rand.Rand) string {
	total := 0.0
	for _, a := range desktopAgents {
		total += a.weight
	}
	draw := r.Float64() * total
	for _, a := range desktopAgents {
		draw -= a.weight
		if draw < 0 {
			return a.agent
		}
	}
	return desktopAgents[0].agent
}

// uniqueEmail builds first.last@domain, suffixing a counter on collision.
func uniqueEmail(first, last, domain string, seen map[string]int) string {
	local := normalizeName(first) + "." + normalizeName(last)
	if local == "." {
		local = "user"
	}
	n := seen[local]
	seen[local] = n + 1
	if n > 0 {
		local = fmt.Sprintf("%s%d", local, n+1)
	}
	return local + "@" + domain
}

// normalizeName lowercases and strips everything outside a-z0-9 so
// international names survive email-local-part rules.
func normalizeName(s string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(s) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func parseSubnets(cidrs []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("population: parsing subnet %q: %w", c, err)
		}
		if n.IP.To4() == nil {
			return nil, fmt.Errorf("population: subnet %q: only IPv4 subnets are supported", c)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// randomHost picks a host address inside the subnet, skipping the first
// ten addresses (typically servers) and the broadcast address.
func randomHost(r *rand.Rand, subnet *net.IPNet) string {
	ones, bits := subnet.Mask.Size()
	hostBits := bits - ones
	// uint64 keeps a /0 host span from wrapping to zero.
	total := uint64(1) << hostBits

	var offset uint32
	switch {
	case total > 12:
		offset = 11 + uint32(r.Int63n(int64(total-12)))
	case total > 2:
		offset = 1 + uint32(r.Int63n(int64(total-2)))
	default:
		offset = 0
	}

	base := binary.BigEndian.Uint32(subnet.IP.To4())
	var ip [4]byte
	binary.BigEndian.PutUint32(ip[:], base+offset)
	return net.IP(ip[:]).String()
}
