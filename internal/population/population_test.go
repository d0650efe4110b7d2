package population

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/shadowgen/internal/config"
	"github.com/example/shadowgen/internal/rng"
)

func testEnterprise(t *testing.T) *config.Enterprise {
	t.Helper()
	ent, err := config.LoadEnterpriseBytes([]byte(`
name: Acme
domain: acme.com
users:
  total_count: 200
  profiles:
    - {name: normal, percentage: 0.7, services_per_day: {mean: 8, std_dev: 3}}
    - {name: power, percentage: 0.2, services_per_day: {mean: 15, std_dev: 5}}
    - {name: risky, percentage: 0.1, services_per_day: {mean: 12, std_dev: 4}, risky_app_preference: 0.6}
network:
  internal_subnets: [10.20.0.0/16]
  vpn_subnets: [172.16.0.0/20]
traffic:
  working_hours: {start: "08:00", end: "18:00"}
`))
	require.NoError(t, err)
	return ent
}

func newSeeder(t *testing.T, seed int64) *rng.Seeder {
	t.Helper()
	s, err := rng.NewSeeder(seed)
	require.NoError(t, err)
	return s
}

func TestNewDeterministic(t *testing.T) {
	ent := testEnterprise(t)

	p1, err := New(ent, newSeeder(t, 42))
	require.NoError(t, err)
	p2, err := New(ent, newSeeder(t, 42))
	require.NoError(t, err)

	require.Equal(t, p1.Size(), p2.Size())
	for i := range p1.Users {
		a, b := p1.Users[i], p2.Users[i]
		assert.Equal(t, a.ID, b.ID)
		assert.Equal(t, a.Email, b.Email)
		assert.Equal(t, a.SourceIP, b.SourceIP)
		assert.Equal(t, a.VPNPool, b.VPNPool)
		assert.Equal(t, a.UserAgent, b.UserAgent)
	}
}

func TestNewSeedChangesRoster(t *testing.T) {
	ent := testEnterprise(t)

	p1, err := New(ent, newSeeder(t, 1))
	require.NoError(t, err)
	p2, err := New(ent, newSeeder(t, 2))
	require.NoError(t, err)

	diff := 0
	for i := range p1.Users {
		if p1.Users[i].Email != p2.Users[i].Email {
			diff++
		}
	}
	assert.Greater(t, diff, 0)
}

func TestEmailsUniqueAndWellFormed(t *testing.T) {
	ent := testEnterprise(t)
	pop, err := New(ent, newSeeder(t, 42))
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, u := range pop.Users {
		require.False(t, seen[u.Email], "duplicate email %s", u.Email)
		seen[u.Email] = true

		assert.True(t, strings.HasSuffix(u.Email, "@acme.com"), "email %s", u.Email)
		local := u.Username()
		assert.NotEmpty(t, local)
		assert.Equal(t, strings.ToLower(local), local)
	}
}

func TestAddressesInsideSubnets(t *testing.T) {
	ent := testEnterprise(t)
	pop, err := New(ent, newSeeder(t, 42))
	require.NoError(t, err)

	_, internal, err := net.ParseCIDR("10.20.0.0/16")
	require.NoError(t, err)
	_, vpn, err := net.ParseCIDR("172.16.0.0/20")
	require.NoError(t, err)

	for _, u := range pop.Users {
		ip := net.ParseIP(u.SourceIP)
		require.NotNil(t, ip)
		assert.True(t, internal.Contains(ip), "source %s outside internal subnet", u.SourceIP)

		require.Len(t, u.VPNPool, 3)
		for _, v := range u.VPNPool {
			vip := net.ParseIP(v)
			require.NotNil(t, vip)
			assert.True(t, vpn.Contains(vip), "vpn %s outside vpn subnet", v)
		}
	}
}

func TestClassDistribution(t *testing.T) {
	ent := testEnterprise(t)
	ent.Users.TotalCount = 2000
	pop, err := New(ent, newSeeder(t, 42))
	require.NoError(t, err)

	counts := pop.CountByClass()
	total := float64(pop.Size())
	assert.InDelta(t, 0.7, float64(counts["normal"])/total, 0.05)
	assert.InDelta(t, 0.2, float64(counts["power"])/total, 0.05)
	assert.InDelta(t, 0.1, float64(counts["risky"])/total, 0.05)
}

func TestGet(t *testing.T) {
	pop, err := New(testEnterprise(t), newSeeder(t, 42))
	require.NoError(t, err)

	u := pop.Get("u00001")
	require.NotNil(t, u)
	assert.Equal(t, pop.Users[0], u)
	assert.Nil(t, pop.Get("u99999"))
}

func TestNewRejectsBadSubnets(t *testing.T) {
	ent := testEnterprise(t)
	ent.Network.InternalSubnets = []string{"not-a-cidr"}
	_, err := New(ent, newSeeder(t, 42))
	require.Error(t, err)

	ent.Network.InternalSubnets = []string{"2001:db8::/64"}
	_, err = New(ent, newSeeder(t, 42))
	require.Error(t, err)
}

func TestRandomHostWideSubnet(t *testing.T) {
	_, subnet, err := net.ParseCIDR("0.0.0.0/0")
	require.NoError(t, err)

	r := newSeeder(t, 42).Derive("test", "widehost")
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		ip := randomHost(r, subnet)
		assert.NotEqual(t, "0.0.0.0", ip, "network address handed out")
		require.NotNil(t, net.ParseIP(ip))
		seen[ip] = true
	}
	assert.Greater(t, len(seen), 100, "host draws collapsed onto a handful of addresses")
}
