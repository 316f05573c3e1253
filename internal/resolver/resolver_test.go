package resolver

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whoson/whosonbot/internal/store"
	"github.com/whoson/whosonbot/pkg/minecraft"
)

// fakeProber scripts probe outcomes and counts calls.
type fakeProber struct {
	javaStatus    *minecraft.Status
	javaErr       error
	bedrockStatus *minecraft.Status
	bedrockErr    error
	queryResult   *minecraft.QueryResult
	queryErr      error

	javaCalls    int
	bedrockCalls int
	queryCalls   int
	order        []string
}

func (f *fakeProber) PingJava(string, int, time.Duration) (*minecraft.Status, error) {
	f.javaCalls++
	f.order = append(f.order, "java")
	return f.javaStatus, f.javaErr
}

func (f *fakeProber) PingBedrock(string, int, time.Duration) (*minecraft.Status, error) {
	f.bedrockCalls++
	f.order = append(f.order, "bedrock")
	return f.bedrockStatus, f.bedrockErr
}

func (f *fakeProber) QueryJava(string, int, time.Duration) (*minecraft.QueryResult, error) {
	f.queryCalls++
	return f.queryResult, f.queryErr
}

var errDown = errors.New("probe failed")

func onlineJava() *minecraft.Status {
	return &minecraft.Status{Edition: minecraft.EditionJava, Online: true, Players: 1, MaxPlayers: 10}
}

func onlineBedrock() *minecraft.Status {
	return &minecraft.Status{Edition: minecraft.EditionBedrock, Online: true, Players: 2, MaxPlayers: 20}
}

func TestResolve_DeclaredTypeNeverCrossProbes(t *testing.T) {
	prober := &fakeProber{javaErr: errDown, bedrockStatus: onlineBedrock(), queryErr: errDown}
	r := New(prober, time.Second)

	res := r.Resolve(&store.TrackedServer{
		Address:      "mc.example.com",
		DeclaredType: store.TypeJava,
		ResolvedType: store.TypeJava,
	})

	assert.Error(t, res.Err)
	assert.Nil(t, res.Status)
	assert.Equal(t, 0, prober.bedrockCalls, "declared java must not fall back to bedrock")
}

func TestResolve_FirstDetectionFollowsPortConvention(t *testing.T) {
	prober := &fakeProber{javaErr: errDown, bedrockStatus: onlineBedrock()}
	r := New(prober, time.Second)

	res := r.Resolve(&store.TrackedServer{
		Address:      "mc.example.com",
		Port:         minecraft.DefaultBedrockPort,
		DeclaredType: store.TypeAuto,
		ResolvedType: store.TypeUnknown,
	})

	require.NoError(t, res.Err)
	assert.Equal(t, store.TypeBedrock, res.ResolvedType)
	assert.Equal(t, []string{"bedrock"}, prober.order, "port 19132 must try bedrock first")
}

func TestResolve_FirstDetectionDefaultsToJavaFirst(t *testing.T) {
	prober := &fakeProber{javaStatus: onlineJava(), bedrockStatus: onlineBedrock(), queryErr: errDown}
	r := New(prober, time.Second)

	res := r.Resolve(&store.TrackedServer{
		Address:      "mc.example.com",
		DeclaredType: store.TypeAuto,
		ResolvedType: store.TypeUnknown,
	})

	require.NoError(t, res.Err)
	assert.Equal(t, store.TypeJava, res.ResolvedType)
	assert.Equal(t, []string{"java"}, prober.order)
}

func TestResolve_CachedTypeTriedFirstWithFallback(t *testing.T) {
	prober := &fakeProber{javaErr: errDown, bedrockStatus: onlineBedrock()}
	r := New(prober, time.Second)

	res := r.Resolve(&store.TrackedServer{
		Address:      "mc.example.com",
		DeclaredType: store.TypeAuto,
		ResolvedType: store.TypeJava,
	})

	require.NoError(t, res.Err)
	assert.Equal(t, []string{"java", "bedrock"}, prober.order)
	assert.Equal(t, store.TypeBedrock, res.ResolvedType, "successful fallback re-resolves the type")
}

func TestResolve_StickyAcrossTransientOutage(t *testing.T) {
	// Both probes fail: the cached resolution must survive the cycle.
	prober := &fakeProber{javaErr: errDown, bedrockErr: errDown}
	r := New(prober, time.Second)

	res := r.Resolve(&store.TrackedServer{
		Address:      "mc.example.com",
		DeclaredType: store.TypeAuto,
		ResolvedType: store.TypeJava,
	})

	assert.Error(t, res.Err)
	assert.Equal(t, store.TypeJava, res.ResolvedType, "outage must not flip the cached type")
	assert.Equal(t, 1, prober.javaCalls)
	assert.Equal(t, 1, prober.bedrockCalls, "fallback probed exactly once")
}

func TestResolve_QueryEnrichmentIsBestEffort(t *testing.T) {
	prober := &fakeProber{
		javaStatus: onlineJava(),
		queryResult: &minecraft.QueryResult{
			Software:   "Paper",
			Plugins:    []string{"EssentialsX"},
			MapName:    "world",
			PlayerList: []string{"alice"},
		},
	}
	r := New(prober, time.Second)

	res := r.Resolve(&store.TrackedServer{Address: "mc.example.com", DeclaredType: store.TypeJava})
	require.NoError(t, res.Err)
	assert.Equal(t, "Paper", res.Status.Software)
	assert.Equal(t, []string{"EssentialsX"}, res.Status.Plugins)
	assert.Equal(t, []string{"alice"}, res.Status.PlayerList)

	// Query failure must not fail the probe.
	prober = &fakeProber{javaStatus: onlineJava(), queryErr: errDown}
	r = New(prober, time.Second)
	res = r.Resolve(&store.TrackedServer{Address: "mc.example.com", DeclaredType: store.TypeJava})
	require.NoError(t, res.Err)
	assert.Empty(t, res.Status.Software)
}

func TestResolve_BedrockNeverQueriesUT3(t *testing.T) {
	prober := &fakeProber{bedrockStatus: onlineBedrock()}
	r := New(prober, time.Second)

	res := r.Resolve(&store.TrackedServer{Address: "mc.example.com", DeclaredType: store.TypeBedrock})
	require.NoError(t, res.Err)
	assert.Equal(t, 0, prober.queryCalls)
}
