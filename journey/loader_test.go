package journey

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

const orderJourneyJSON = `{
  "journey": {
    "name": "order-fulfilment",
    "process_variables": [
      {"name": "total", "type": "long", "value": "250"},
      {"name": "express", "type": "boolean", "value": "true"},
      {"name": "customer", "type": "string", "value": "acme"},
      {"name": "attempts", "type": "integer", "value": 1}
    ],
    "tickets": [
      {"name": "cancel_order", "step": "release"}
    ],
    "flow": [
      {"type": "TASK", "name": "reserve", "component": "reserveStock", "next": "route"},
      {"type": "S_ROUTE", "name": "route", "component": "pickCarrier", "branches": [
        {"name": "ground", "next": "ship_ground"},
        {"name": "air", "next": "ship_air"}
      ]},
      {"type": "TASK", "name": "ship_ground", "component": "shipGround", "next": "release"},
      {"type": "TASK", "name": "ship_air", "component": "shipAir", "next": "release"},
      {"type": "TASK", "name": "release", "component": "releaseStock", "next": "end"}
    ]
  }
}`

const orderJourneyYAML = `
journey:
  name: order-fulfilment
  process_variables:
    - name: total
      type: long
      value: 250
    - name: express
      type: boolean
      value: true
  tickets:
    - name: cancel_order
      step: release
  flow:
    - type: TASK
      name: reserve
      component: reserveStock
      next: route
    - type: S_ROUTE
      name: route
      component: pickCarrier
      branches:
        - name: ground
          next: ship_ground
        - name: air
          next: ship_air
    - type: TASK
      name: ship_ground
      component: shipGround
      next: release
    - type: TASK
      name: ship_air
      component: shipAir
      next: release
    - type: TASK
      name: release
      component: releaseStock
      next: end
`

func TestLoadJSON(t *testing.T) {
	jny, err := LoadJSON([]byte(orderJourneyJSON), DefaultPathSeparator)
	if err != nil {
		t.Fatalf("LoadJSON failed: %v", err)
	}
	if jny.Name != "order-fulfilment" {
		t.Errorf("expected name carried, got %q", jny.Name)
	}
	if len(jny.Flow) != 5 {
		t.Fatalf("expected 5 nodes, got %d", len(jny.Flow))
	}
	route, ok := jny.node("route")
	if !ok || route.Type != NodeSRoute || len(route.Branches) != 2 {
		t.Fatalf("route node not decoded: %+v", route)
	}
	if step, ok := jny.ticketStep("cancel_order"); !ok || step != "release" {
		t.Errorf("ticket not decoded, got %q %v", step, ok)
	}

	// Wire values arrive as strings or native scalars; both coerce to the
	// declared type.
	want := map[string]any{
		"total":    int64(250),
		"express":  true,
		"customer": "acme",
		"attempts": 1,
	}
	for _, v := range jny.Variables {
		if v.Value != want[v.Name] {
			t.Errorf("variable %s: expected %#v, got %#v", v.Name, want[v.Name], v.Value)
		}
	}
}

func TestLoadYAML(t *testing.T) {
	jny, err := LoadYAML([]byte(orderJourneyYAML), DefaultPathSeparator)
	if err != nil {
		t.Fatalf("LoadYAML failed: %v", err)
	}
	if jny.Name != "order-fulfilment" || len(jny.Flow) != 5 {
		t.Fatalf("unexpected journey: %s with %d nodes", jny.Name, len(jny.Flow))
	}
	vals := map[string]any{}
	for _, v := range jny.Variables {
		vals[v.Name] = v.Value
	}
	if vals["total"] != int64(250) {
		t.Errorf("expected long 250, got %#v", vals["total"])
	}
	if vals["express"] != true {
		t.Errorf("expected boolean true, got %#v", vals["express"])
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Run("malformed JSON", func(t *testing.T) {
		_, err := LoadJSON([]byte("{nope"), DefaultPathSeparator)
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != CodeDefinitionInvalid {
			t.Errorf("expected DEFINITION_INVALID, got %v", err)
		}
	})

	t.Run("malformed YAML", func(t *testing.T) {
		_, err := LoadYAML([]byte(":\n  - ]["), DefaultPathSeparator)
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != CodeDefinitionInvalid {
			t.Errorf("expected DEFINITION_INVALID, got %v", err)
		}
	})

	t.Run("structurally invalid definition", func(t *testing.T) {
		doc := `{"journey": {"name": "bad", "flow": [
			{"type": "TASK", "name": "a", "component": "c", "next": "missing"}
		]}}`
		_, err := LoadJSON([]byte(doc), DefaultPathSeparator)
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != CodeDefinitionInvalid {
			t.Errorf("expected DEFINITION_INVALID, got %v", err)
		}
	})

	t.Run("bad variable value", func(t *testing.T) {
		doc := `{"journey": {"name": "bad", "process_variables": [
			{"name": "total", "type": "long", "value": "not-a-number"}
		], "flow": [
			{"type": "TASK", "name": "a", "component": "c", "next": "end"}
		]}}`
		_, err := LoadJSON([]byte(doc), DefaultPathSeparator)
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != CodeDefinitionInvalid {
			t.Errorf("expected DEFINITION_INVALID, got %v", err)
		}
	})
}

func TestJourneyDoc_RoundTrip(t *testing.T) {
	jny, err := LoadJSON([]byte(orderJourneyJSON), DefaultPathSeparator)
	if err != nil {
		t.Fatalf("LoadJSON failed: %v", err)
	}

	raw, err := json.Marshal(journeyToDoc(jny))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	back, err := decodeJourneyDoc(raw)
	if err != nil {
		t.Fatalf("decodeJourneyDoc failed: %v", err)
	}
	if err := back.Validate(DefaultPathSeparator); err != nil {
		t.Fatalf("round-tripped journey does not validate: %v", err)
	}

	if back.Name != jny.Name || len(back.Flow) != len(jny.Flow) {
		t.Fatalf("round trip lost structure: %s with %d nodes", back.Name, len(back.Flow))
	}
	for i := range jny.Flow {
		if back.Flow[i].Name != jny.Flow[i].Name || back.Flow[i].Type != jny.Flow[i].Type {
			t.Errorf("node %d changed: %+v vs %+v", i, back.Flow[i], jny.Flow[i])
		}
	}
	for i, v := range jny.Variables {
		if back.Variables[i].Value != v.Value {
			t.Errorf("variable %s: expected %#v, got %#v", v.Name, v.Value, back.Variables[i].Value)
		}
	}
}

func TestLoadedJourney_Runs(t *testing.T) {
	jny, err := LoadJSON([]byte(orderJourneyJSON), DefaultPathSeparator)
	if err != nil {
		t.Fatalf("LoadJSON failed: %v", err)
	}

	tc := newTestComponents()
	tc.proceed("reserveStock", "shipAir", "releaseStock")
	tc.onRoute("pickCarrier", func(sc StepContext) (RouteResponse, error) {
		total, err := sc.Variables.GetLong("total")
		if err != nil {
			return RouteResponse{}, err
		}
		if total > 100 {
			return RouteResponse{Type: ResponseOKProceed, Branches: []string{"air"}}, nil
		}
		return RouteResponse{Type: ResponseOKProceed, Branches: []string{"ground"}}, nil
	})
	e := newTestEngine(t, tc)

	state, err := e.StartCase(context.Background(), "case-loaded", jny, nil, nil)
	if err != nil {
		t.Fatalf("StartCase failed: %v", err)
	}
	if !state.IsComplete {
		t.Fatal("expected completion")
	}
	if tc.callCount("shipAir") != 1 || tc.callCount("shipGround") != 0 {
		t.Errorf("expected the air branch selected, got air=%d ground=%d",
			tc.callCount("shipAir"), tc.callCount("shipGround"))
	}
}
