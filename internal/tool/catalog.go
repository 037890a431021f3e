package tool

import "mijiamcp/internal/domain"

// Server identity reported to MCP clients and by get_system_info.
const (
	ServerName    = "mijia-mcp-server"
	ServerVersion = "2.0.0"
)

// SystemInfoTool is the only tool answered in-process.
const SystemInfoTool = "get_system_info"

var useMock = domain.Param{Name: "use_mock", Type: "boolean", Description: "Serve canned data instead of calling the Mijia cloud"}

// deviceSelector is the device_id/device_name pair shared by the per-device tools.
var deviceSelector = []domain.Param{
	{Name: "device_id", Type: "string", Description: "Device DID (preferred)"},
	{Name: "device_name", Type: "string", Description: "Device name as shown in the Mi Home app"},
}

var oneDevice = [][]string{{"device_id"}, {"device_name"}}

// Catalog returns the static tool table in presentation order.
func Catalog() []domain.ToolDescriptor {
	return []domain.ToolDescriptor{
		{
			Name:        "list_mijia_homes",
			Description: "List every home on the Mijia account, shared homes included",
			Action:      "list_homes",
			Params:      []domain.Param{useMock},
		},
		{
			Name:        "get_mijia_devices",
			Description: "List Mijia devices, optionally filtered by home and including shared devices",
			Action:      "list_devices",
			Params: []domain.Param{
				{Name: "home_id", Type: "string", Description: "Home ID, as returned by list_mijia_homes"},
				{Name: "include_shared", Type: "boolean", Description: "Include devices shared with this account", Default: false},
				useMock,
			},
		},
		{
			Name:        "get_device_status",
			Description: "Read device properties and list the properties and actions the device supports",
			Action:      "device_status",
			Params: append(append([]domain.Param{}, deviceSelector...),
				domain.Param{Name: "properties", Type: "array", Items: "string", Description: "Property names to read, e.g. on, brightness"},
				domain.Param{Name: "include_metadata", Type: "boolean", Description: "Return property and action metadata", Default: true},
				domain.Param{Name: "sleep_time", Type: "number", Description: "Pause between property reads, in seconds", Default: 0.5},
				useMock,
			),
			AnyOf: oneDevice,
		},
		{
			Name:        "control_device",
			Description: "Set a device property or run a device action (power, brightness, run_action)",
			Action:      "control_device",
			Params: append(append([]domain.Param{}, deviceSelector...),
				domain.Param{Name: "operation", Type: "string", Enum: []string{"set_property", "run_action"}, Default: "set_property"},
				domain.Param{Name: "prop_name", Type: "string", Description: "Property name, required for set_property"},
				domain.Param{Name: "value", Description: "Property value: number, string or bool"},
				domain.Param{Name: "action_name", Type: "string", Description: "Action name, required for run_action"},
				domain.Param{Name: "action_value", Description: `Action arguments as a list, e.g. ["on"]`},
				domain.Param{Name: "action_kwargs", Type: "object", Description: "Extra keyword arguments for the action"},
				useMock,
			),
			AnyOf: oneDevice,
		},
		{
			Name:        "list_mijia_scenes",
			Description: "List the manual scenes of a home",
			Action:      "list_scenes",
			Params: []domain.Param{
				{Name: "home_id", Type: "string", Description: "Home ID; empty lists the scenes of every home"},
				useMock,
			},
		},
		{
			Name:        "run_mijia_scene",
			Description: "Run a scene in the given home",
			Action:      "run_scene",
			Params: []domain.Param{
				{Name: "scene_id", Type: "string", Description: "Scene ID", Required: true},
				{Name: "home_id", Type: "string", Description: "Home ID", Required: true},
				useMock,
			},
		},
		{
			Name:        "list_mijia_consumables",
			Description: "Report consumable and accessory status (filters, brushes, batteries)",
			Action:      "list_consumables",
			Params: []domain.Param{
				{Name: "home_id", Type: "string", Description: "Home ID; empty walks every home"},
				useMock,
			},
		},
		{
			Name:        "get_mijia_statistics",
			Description: "Query device statistics such as power consumption",
			Action:      "get_statistics",
			Params: []domain.Param{
				{Name: "payload", Type: "object", Required: true,
					Description: "Raw statistics query; must carry did, key, data_type, time_start, time_end and limit"},
				useMock,
			},
		},
		{
			Name:        "get_device_spec",
			Description: "Fetch the property and action definitions of a device model from the Mijia spec platform",
			Action:      "get_device_spec",
			Params: []domain.Param{
				{Name: "model", Type: "string", Description: "Device model, e.g. yeelink.light.lamp4", Required: true},
				useMock,
			},
		},
		{
			Name:        SystemInfoTool,
			Description: "Report the MCP server's runtime environment",
		},
	}
}
