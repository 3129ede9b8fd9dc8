// Package testutil provides shared fixtures: a small milling-machine
// device schema matching the shapes adapters produce in the field.
package testutil

import "github.com/mtcforge/mtcagent/internal/schema"

// TestUUID is the uuid of the fixture device.
const TestUUID = "000"

// TestDevice builds a device with event, sample, and condition data
// items spread across a controller and an axes component.
func TestDevice() *schema.Device {
	return &schema.Device{
		ID:   "dev1",
		UUID: TestUUID,
		Name: "VMC-3Axis",
		DataItems: []schema.DataItem{
			{ID: "avail1", Name: "avail", Type: "AVAILABILITY", Category: schema.CategoryEvent},
		},
		Components: []schema.Component{
			{
				ID:   "cont1",
				Name: "controller",
				Type: "Controller",
				DataItems: []schema.DataItem{
					{ID: "exec1", Name: "execution", Type: "EXECUTION", Category: schema.CategoryEvent},
					{ID: "line1", Name: "line", Type: "LINE", Category: schema.CategoryEvent},
					{ID: "mode1", Name: "mode", Type: "CONTROLLER_MODE", Category: schema.CategoryEvent},
					{ID: "prog1", Name: "program", Type: "PROGRAM", Category: schema.CategoryEvent},
					{ID: "fovr1", Name: "Fovr", Type: "PATH_FEEDRATE", SubType: "OVERRIDE", Category: schema.CategoryEvent},
					{ID: "sovr1", Name: "Sovr", Type: "SPINDLE_SPEED", SubType: "OVERRIDE", Category: schema.CategoryEvent},
					{ID: "htemp1", Name: "htemp", Type: "TEMPERATURE", Category: schema.CategoryCondition},
				},
			},
			{
				ID:   "axes1",
				Name: "base",
				Type: "Axes",
				Components: []schema.Component{
					{
						ID:   "c1",
						Name: "C",
						Type: "Rotary",
						DataItems: []schema.DataItem{
							{ID: "cload1", Name: "Cload", Type: "LOAD", Units: "PERCENT", Category: schema.CategorySample},
							{ID: "cloadc1", Name: "Cloadc", Type: "LOAD", Category: schema.CategoryCondition},
						},
					},
				},
			},
		},
	}
}

// TestRegistry builds a registry with the fixture device registered.
func TestRegistry() *schema.Registry {
	reg := schema.NewRegistry()
	if err := reg.Register(TestDevice()); err != nil {
		panic(err)
	}
	return reg
}
