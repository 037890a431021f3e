package tool

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"mijiamcp/internal/domain"
)

func TestDefault_TenTools(t *testing.T) {
	t.Parallel()
	reg := Default()
	tools := reg.List()
	if len(tools) != 10 {
		t.Fatalf("expected 10 tools, got %d", len(tools))
	}
	want := []string{
		"list_mijia_homes", "get_mijia_devices", "get_device_status", "control_device",
		"list_mijia_scenes", "run_mijia_scene", "list_mijia_consumables",
		"get_mijia_statistics", "get_device_spec", "get_system_info",
	}
	if got := reg.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names = %v, want %v", got, want)
	}
	for _, d := range tools {
		if d.Name == "" || d.Description == "" {
			t.Errorf("tool %+v has empty name or description", d)
		}
		if d.Name == SystemInfoTool && d.Forwarded() {
			t.Errorf("%s must be local", d.Name)
		}
		if d.Name != SystemInfoTool && !d.Forwarded() {
			t.Errorf("%s must be forwarded", d.Name)
		}
	}
}

func TestDefault_ActionTags(t *testing.T) {
	t.Parallel()
	want := map[string]string{
		"list_mijia_homes":       "list_homes",
		"get_mijia_devices":      "list_devices",
		"get_device_status":      "device_status",
		"control_device":         "control_device",
		"list_mijia_scenes":      "list_scenes",
		"run_mijia_scene":        "run_scene",
		"list_mijia_consumables": "list_consumables",
		"get_mijia_statistics":   "get_statistics",
		"get_device_spec":        "get_device_spec",
	}
	for name, action := range want {
		d, ok := Default().Lookup(name)
		if !ok {
			t.Fatalf("missing %s", name)
		}
		if d.Action != action {
			t.Errorf("%s: Action = %q, want %q", name, d.Action, action)
		}
	}
}

func TestList_IsStableAndCopied(t *testing.T) {
	t.Parallel()
	reg := Default()
	first := reg.List()
	first[0].Name = "mutated"
	first[2].Params[0].Name = "mutated"

	second := reg.List()
	if second[0].Name != "list_mijia_homes" || second[2].Params[0].Name != "device_id" {
		t.Fatal("List must return copies")
	}
	if !reflect.DeepEqual(second, reg.List()) {
		t.Fatal("List must be identical across calls")
	}
}

func TestLookup_Unknown(t *testing.T) {
	t.Parallel()
	if _, ok := Default().Lookup("turn_on_everything"); ok {
		t.Fatal("unexpected tool")
	}
	if Default().InputSchema("turn_on_everything") != nil {
		t.Fatal("unknown tool should have no schema")
	}
}

func TestInputSchema_DeviceStatus(t *testing.T) {
	t.Parallel()
	s := Default().InputSchema("get_device_status")
	if s == nil || s.Type != "object" {
		t.Fatalf("unexpected schema: %+v", s)
	}
	if len(s.AnyOf) != 2 || s.AnyOf[0].Required[0] != "device_id" || s.AnyOf[1].Required[0] != "device_name" {
		t.Fatalf("unexpected anyOf: %+v", s.AnyOf)
	}
	props := s.Properties["properties"]
	if props.Type != "array" || props.Items == nil || props.Items.Type != "string" {
		t.Fatalf("properties param: %+v", props)
	}
	if string(s.Properties["sleep_time"].Default) != "0.5" {
		t.Fatalf("sleep_time default = %s", s.Properties["sleep_time"].Default)
	}
	if string(s.Properties["include_metadata"].Default) != "true" {
		t.Fatalf("include_metadata default = %s", s.Properties["include_metadata"].Default)
	}
}

func TestInputSchema_RequiredAndEnum(t *testing.T) {
	t.Parallel()
	scene := Default().InputSchema("run_mijia_scene")
	if !reflect.DeepEqual(scene.Required, []string{"scene_id", "home_id"}) {
		t.Fatalf("run_mijia_scene required = %v", scene.Required)
	}

	ctl := Default().InputSchema("control_device")
	op := ctl.Properties["operation"]
	if !reflect.DeepEqual(op.Enum, []any{"set_property", "run_action"}) {
		t.Fatalf("operation enum = %v", op.Enum)
	}
	if ctl.Properties["value"].Type != "" {
		t.Fatalf("value should accept any type, got %q", ctl.Properties["value"].Type)
	}

	// The rendered schema must serialize as an object schema.
	raw, err := json.Marshal(Default().InputSchema(SystemInfoTool))
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	if decoded["type"] != "object" {
		t.Fatalf("system info schema = %s", raw)
	}
}

func TestValidate_Strict(t *testing.T) {
	t.Parallel()
	reg := Default()
	cases := []struct {
		tool string
		args map[string]any
		ok   bool
	}{
		{"list_mijia_homes", nil, true},
		{"get_device_status", map[string]any{"device_id": "123"}, true},
		{"get_device_status", map[string]any{"device_name": "Desk lamp"}, true},
		{"get_device_status", map[string]any{}, false},
		{"run_mijia_scene", map[string]any{"scene_id": "s1"}, false},
		{"run_mijia_scene", map[string]any{"scene_id": "s1", "home_id": "h1"}, true},
		{"control_device", map[string]any{"device_id": "1", "operation": "explode"}, false},
		{"control_device", map[string]any{"device_id": "1", "prop_name": "on", "value": true}, true},
		{"get_mijia_devices", map[string]any{"include_shared": "yes"}, false},
		{"get_mijia_statistics", map[string]any{"payload": map[string]any{"did": "1"}}, true},
		{"get_device_status", map[string]any{"device_id": "1", "sleep_time": json.Number("0.5")}, true},
		{"get_device_status", map[string]any{"device_id": "1", "sleep_time": "slow"}, false},
		{"control_device", map[string]any{"device_id": "1", "action_kwargs": map[string]any{"speed": json.Number("3")}}, true},
		{"no_such_tool", nil, false},
	}
	for _, tc := range cases {
		err := reg.Validate(tc.tool, tc.args)
		if tc.ok && err != nil {
			t.Errorf("%s %v: unexpected error %v", tc.tool, tc.args, err)
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("%s %v: expected error", tc.tool, tc.args)
			} else if !errors.Is(err, ErrInvalidArguments) {
				t.Errorf("%s: error should wrap ErrInvalidArguments: %v", tc.tool, err)
			}
		}
	}
}

func TestValidate_LeavesNumbersUntouched(t *testing.T) {
	t.Parallel()
	args := map[string]any{"scene_id": json.Number("9007199254740993"), "home_id": "h1"}
	if err := Default().Validate("run_mijia_scene", args); err == nil {
		t.Fatal("scene_id is declared as a string")
	}
	args = map[string]any{"device_id": "1", "sleep_time": json.Number("1.5")}
	if err := Default().Validate("get_device_status", args); err != nil {
		t.Fatal(err)
	}
	if args["sleep_time"] != json.Number("1.5") {
		t.Fatalf("Validate changed the caller's value: %#v", args["sleep_time"])
	}
}

func TestNewRegistry_Rejects(t *testing.T) {
	t.Parallel()
	ok := domain.ToolDescriptor{Name: "a", Description: "A"}
	cases := map[string][]domain.ToolDescriptor{
		"empty name":      {{Description: "x"}},
		"no description":  {{Name: "a"}},
		"duplicate":       {ok, ok},
		"bad anyOf field": {{Name: "b", Description: "B", AnyOf: [][]string{{"ghost"}}}},
	}
	for name, descs := range cases {
		if _, err := NewRegistry(descs...); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := NewRegistry(ok); err != nil {
		t.Fatalf("valid registry: %v", err)
	}
}
