package fusion

import "testing"

func TestRegistryMergesOverDefault(t *testing.T) {
	reg, err := NewRegistry(Profile{
		Name:       "aggressive",
		Composite:  map[string]float64{CompTrapScore: -0.1},
		Thresholds: Thresholds{TrapDampening: 0.5},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	p, ok := reg.Get("aggressive")
	if !ok {
		t.Fatalf("profile not registered")
	}
	if p.Composite[CompTrapScore] != -0.1 || p.Composite[CompFlowPower] != 0.30 {
		t.Fatalf("unexpected merged composite %v", p.Composite)
	}
	if p.Thresholds.TrapDampening != 0.5 || p.Thresholds.ReboundFloor != 0.01 {
		t.Fatalf("unexpected thresholds %+v", p.Thresholds)
	}
	if len(p.Rebound) != 3 || p.Version != 1 {
		t.Fatalf("rebound bands and version should be inherited")
	}
	if def, ok := reg.Get("missing"); ok || def.Name != DefaultProfileName {
		t.Fatalf("unknown name should fall back to default")
	}
	if names := reg.Names(); len(names) != 2 || names[0] != "aggressive" {
		t.Fatalf("names %v", names)
	}
}

func TestRegistryRejectsInvalid(t *testing.T) {
	cases := []Profile{
		{Name: ""},
		{Name: "bad-bands", Rebound: []ReboundBand{{Upper: 0.1, Sensitivity: 0.01}, {Upper: 0.05, Sensitivity: 0.02}}},
		{Name: "bad-damp", Thresholds: Thresholds{TrapDampening: 2}},
		{Name: "bad-trim", Thresholds: Thresholds{TrimFraction: 0.6}},
	}
	for _, p := range cases {
		if _, err := NewRegistry(p); err == nil {
			t.Fatalf("profile %q should be rejected", p.Name)
		}
	}
}
