package export

import (
	"encoding/json"
	"testing"

	"github.com/ldd69/anvil/pkg/runstate"
)

func buildFingerprint(records []runstate.IterationRecord) *Fingerprint {
	return NewFingerprintBuilder().
		WithToolVersion("1.0.0").
		WithLoop(0.99, 5, 1000).
		WithRecords(records).
		WithParameter("trainer", "anvil-train").
		WithParameter("sampler", "anvil-sample").
		Build()
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := buildFingerprint(sampleRecords())
	b := buildFingerprint(sampleRecords())

	if a.Hash != b.Hash {
		t.Errorf("identical runs hashed differently: %s vs %s", a.Hash, b.Hash)
	}
	if len(a.Hash) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a.Hash))
	}
	if a.Algorithm != HashAlgorithm {
		t.Errorf("expected algorithm %s, got %s", HashAlgorithm, a.Algorithm)
	}
}

func TestFingerprint_Sensitivity(t *testing.T) {
	base := buildFingerprint(sampleRecords()).Hash

	changed := sampleRecords()
	changed[1].AcceptanceMean = 0.8100001

	tests := []struct {
		name string
		fp   *Fingerprint
	}{
		{"record value", buildFingerprint(changed)},
		{"record count", buildFingerprint(sampleRecords()[:1])},
		{"target", NewFingerprintBuilder().WithToolVersion("1.0.0").WithLoop(0.95, 5, 1000).
			WithRecords(sampleRecords()).WithParameter("trainer", "anvil-train").
			WithParameter("sampler", "anvil-sample").Build()},
		{"parameter", buildFingerprint(sampleRecords()).Config.with("sampler", "other")},
	}
	for _, tt := range tests {
		if tt.fp.Hash == base {
			t.Errorf("%s: expected a different hash", tt.name)
		}
	}
}

// with returns a fingerprint of a copy of c with one parameter replaced.
func (c *RunConfig) with(key, value string) *Fingerprint {
	fb := NewFingerprintBuilder().
		WithToolVersion(c.ToolVersion).
		WithLoop(c.Target, c.NSample, c.EpochsIter).
		WithRecords(c.Records)
	for k, v := range c.Parameters {
		fb.WithParameter(k, v)
	}
	return fb.WithParameter(key, value).Build()
}

func TestFingerprint_ParameterOrderIrrelevant(t *testing.T) {
	a := NewFingerprintBuilder().WithParameter("a", "1").WithParameter("b", "2").Build()
	b := NewFingerprintBuilder().WithParameter("b", "2").WithParameter("a", "1").Build()
	if a.Hash != b.Hash {
		t.Error("parameter insertion order changed the hash")
	}
}

func TestFingerprint_ShortHashAndVerify(t *testing.T) {
	fp := buildFingerprint(sampleRecords())
	if fp.ShortHash() != fp.Hash[:8] {
		t.Errorf("ShortHash = %q", fp.ShortHash())
	}
	if !fp.Verify() {
		t.Error("expected fresh fingerprint to verify")
	}

	fp.Config.Records[0].Epochs++
	if fp.Verify() {
		t.Error("expected verification to fail after tampering")
	}

	if (&Fingerprint{Hash: "abc"}).ShortHash() != "abc" {
		t.Error("short hashes should be returned as-is")
	}
	if (&Fingerprint{Hash: "abc"}).Verify() {
		t.Error("fingerprint without config must not verify")
	}
}

func TestFingerprint_ToJSON(t *testing.T) {
	out, err := buildFingerprint(sampleRecords()).ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	var decoded struct {
		Hash   string `json:"hash"`
		Config struct {
			NSample int `json:"n_sample"`
			Records []struct {
				Epochs int `json:"epochs"`
			} `json:"records"`
		} `json:"config"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Config.NSample != 5 || len(decoded.Config.Records) != 2 {
		t.Errorf("unexpected decoded config %+v", decoded.Config)
	}
}
