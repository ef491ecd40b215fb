package diag

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/misaakidis/fred-staging/internal/simnet"
	"github.com/misaakidis/fred-staging/pkg/netid"
)

type testRuntime struct {
	manager *netid.Manager
	metrics *netid.Metrics
	started time.Time
}

func (r *testRuntime) Manager() *netid.Manager { return r.manager }
func (r *testRuntime) Metrics() *netid.Metrics { return r.metrics }
func (r *testRuntime) StartTime() time.Time    { return r.started }

func startServer(t *testing.T) (*Server, string) {
	t.Helper()

	mesh := simnet.NewMesh(3, 10)
	a := mesh.NewNode("alpha")
	b := mesh.NewNode("bravo")
	c := mesh.NewNode("charlie")
	mesh.Connect(a, b)
	mesh.Connect(a, c)

	metrics := netid.NewMetrics()
	mgr := a.AttachManager(netid.Config{}, metrics)
	mgr.Reckon()

	s := NewServer(&testRuntime{manager: mgr, metrics: metrics, started: time.Now()})
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, "http://" + s.Addr()
}

func get(t *testing.T, url string) []byte {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return body
}

func TestServer_NetworkID(t *testing.T) {
	_, base := startServer(t)

	var out struct {
		NetworkID int32 `json:"network_id"`
	}
	if err := json.Unmarshal(get(t, base+"/v1/networkid"), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.NetworkID == 0 {
		t.Error("network_id is the sentinel after a reckon")
	}
}

func TestServer_Groups(t *testing.T) {
	_, base := startServer(t)

	var out []struct {
		NetworkID int32    `json:"network_id"`
		OurGroup  bool     `json:"our_group"`
		Members   []string `json:"members"`
	}
	if err := json.Unmarshal(get(t, base+"/v1/groups"), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("no groups")
	}
	if !out[0].OurGroup {
		t.Error("top group not ours")
	}
	if len(out[0].Members) == 0 {
		t.Error("top group has no members")
	}
}

func TestServer_StatusAndMatrix(t *testing.T) {
	_, base := startServer(t)

	var status struct {
		NetworkID int32 `json:"network_id"`
		Groups    int   `json:"groups"`
	}
	if err := json.Unmarshal(get(t, base+"/v1/status"), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Groups == 0 {
		t.Error("status reports zero groups")
	}

	// Matrix decodes as a two-level map even when empty.
	var matrix map[string]map[string]float64
	if err := json.Unmarshal(get(t, base+"/v1/matrix"), &matrix); err != nil {
		t.Fatalf("decode matrix: %v", err)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	_, base := startServer(t)

	body := get(t, base+"/metrics")
	if want := "netid_reckon_total"; !bytes.Contains(body, []byte(want)) {
		t.Errorf("metrics output missing %q", want)
	}
}

func TestServer_UnknownRouteIs404(t *testing.T) {
	_, base := startServer(t)

	resp, err := http.Get(fmt.Sprintf("%s/v1/nope", base))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
