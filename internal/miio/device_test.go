package miio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/muurk/miiobridge/internal/descriptor"
)

// fakeCaller records requests and plays back canned responses per method.
type fakeCaller struct {
	responses map[string]string
	err       error
	calls     []fakeCall
}

type fakeCall struct {
	method string
	params any
}

func (f *fakeCaller) Call(_ context.Context, method string, params any) (json.RawMessage, error) {
	f.calls = append(f.calls, fakeCall{method: method, params: params})
	if f.err != nil {
		return nil, f.err
	}
	resp, ok := f.responses[method]
	if !ok {
		return nil, fmt.Errorf("unexpected method %s", method)
	}
	return json.RawMessage(resp), nil
}

func testCollection() *descriptor.Collection {
	coll := descriptor.NewCollection("zhimi.airpurifier.mb3")
	coll.DeviceType = "air_purifier"
	coll.AddProperty(&descriptor.Property{
		ID: "on", SIID: 2, PIID: 1,
		Format: descriptor.FormatBool,
		Access: descriptor.AccessRead | descriptor.AccessWrite,
	})
	coll.AddProperty(&descriptor.Property{
		ID: "mode", SIID: 2, PIID: 4,
		Format: descriptor.FormatInt,
		Access: descriptor.AccessRead | descriptor.AccessWrite,
		Choices: []descriptor.Choice{
			{Name: "Auto", Value: 0},
			{Name: "Sleep", Value: 1},
		},
	})
	coll.AddProperty(&descriptor.Property{
		ID: "fan_level", SIID: 2, PIID: 5,
		Format: descriptor.FormatInt,
		Access: descriptor.AccessRead | descriptor.AccessWrite,
		HasRange: true, Min: 1, Max: 3, Step: 1,
	})
	coll.AddProperty(&descriptor.Property{
		ID: "pm2.5_density", SIID: 3, PIID: 6,
		Format: descriptor.FormatFloat,
		Access: descriptor.AccessRead,
	})
	coll.AddAction(&descriptor.Action{ID: "toggle", SIID: 2, AIID: 1})
	return coll
}

func TestDeviceInfo(t *testing.T) {
	caller := &fakeCaller{responses: map[string]string{
		"miIO.info": `{"model":"zhimi.airpurifier.mb3","fw_ver":"2.1.8","hw_ver":"esp32","mac":"54:EF:44:00:00:01"}`,
	}}
	dev := NewDevice(caller, testCollection())

	info, err := dev.Info(context.Background())
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.Model != "zhimi.airpurifier.mb3" {
		t.Errorf("Model = %v", info.Model)
	}
	if info.FirmwareVersion != "2.1.8" {
		t.Errorf("FirmwareVersion = %v", info.FirmwareVersion)
	}
}

func TestDeviceStatus(t *testing.T) {
	caller := &fakeCaller{responses: map[string]string{
		"get_properties": `[
			{"did":"on","siid":2,"piid":1,"code":0,"value":true},
			{"did":"mode","siid":2,"piid":4,"code":0,"value":1},
			{"did":"fan_level","siid":2,"piid":5,"code":-4004,"value":null},
			{"did":"pm2.5_density","siid":3,"piid":6,"code":0,"value":12.5}
		]`,
	}}
	dev := NewDevice(caller, testCollection())

	status, err := dev.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if on, ok := status.Bool("on"); !ok || !on {
		t.Errorf("status.Bool(on) = %v, %v", on, ok)
	}
	if mode, ok := status.Int("mode"); !ok || mode != 1 {
		t.Errorf("status.Int(mode) = %v, %v", mode, ok)
	}
	// Per-property failure codes drop the value, not the snapshot.
	if _, ok := status["fan_level"]; ok {
		t.Error("fan_level should be absent after per-property error")
	}
	if pm, ok := status.Float("pm2.5_density"); !ok || pm != 12.5 {
		t.Errorf("status.Float(pm2.5_density) = %v, %v", pm, ok)
	}

	if len(caller.calls) != 1 {
		t.Fatalf("expected one get_properties call, got %d", len(caller.calls))
	}
	refs, ok := caller.calls[0].params.([]miotRef)
	if !ok || len(refs) != 4 {
		t.Fatalf("get_properties params = %+v", caller.calls[0].params)
	}
}

func TestDeviceStatusChunking(t *testing.T) {
	coll := descriptor.NewCollection("test.model.v1")
	for i := 0; i < 20; i++ {
		coll.AddProperty(&descriptor.Property{
			ID:     fmt.Sprintf("prop_%02d", i),
			SIID:   2,
			PIID:   i + 1,
			Format: descriptor.FormatInt,
			Access: descriptor.AccessRead,
		})
	}

	caller := &fakeCaller{responses: map[string]string{
		"get_properties": `[{"did":"prop_00","siid":2,"piid":1,"code":0,"value":7}]`,
	}}
	dev := NewDevice(caller, coll)

	if _, err := dev.Status(context.Background()); err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(caller.calls) != 2 {
		t.Errorf("expected 2 chunked calls for 20 properties, got %d", len(caller.calls))
	}
}

func TestDeviceStatusAllFailed(t *testing.T) {
	caller := &fakeCaller{responses: map[string]string{
		"get_properties": `[{"did":"on","siid":2,"piid":1,"code":-4004,"value":null}]`,
	}}
	dev := NewDevice(caller, testCollection())

	_, err := dev.Status(context.Background())
	if err == nil {
		t.Fatal("Status() should fail when no property could be read")
	}
	var devErr *DeviceError
	if !errors.As(err, &devErr) || devErr.Type != ErrTypeProtocol {
		t.Errorf("Status() error = %v, want protocol error", err)
	}
}

func TestDeviceSetProperty(t *testing.T) {
	okReply := `[{"did":"x","siid":2,"piid":1,"code":0}]`

	tests := []struct {
		name    string
		id      string
		value   any
		wantErr bool
		want    any // expected wire value
	}{
		{name: "bool", id: "on", value: true, want: true},
		{name: "choice by name", id: "mode", value: "Sleep", want: int64(1)},
		{name: "choice by value", id: "mode", value: 0, want: int64(0)},
		{name: "unknown choice name", id: "mode", value: "Turbo", wantErr: true},
		{name: "unknown choice value", id: "mode", value: 9, wantErr: true},
		{name: "ranged in bounds", id: "fan_level", value: 2, want: int64(2)},
		{name: "ranged out of bounds", id: "fan_level", value: 5, wantErr: true},
		{name: "read-only property", id: "pm2.5_density", value: 1.0, wantErr: true},
		{name: "unknown property", id: "nope", value: 1, wantErr: true},
		{name: "wrong type", id: "on", value: "yes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &fakeCaller{responses: map[string]string{"set_properties": okReply}}
			dev := NewDevice(caller, testCollection())

			err := dev.SetProperty(context.Background(), tt.id, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SetProperty() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if len(caller.calls) != 0 {
					t.Error("invalid values must be rejected before going on the wire")
				}
				return
			}
			values := caller.calls[0].params.([]miotValue)
			if values[0].Value != tt.want {
				t.Errorf("wire value = %v (%T), want %v (%T)", values[0].Value, values[0].Value, tt.want, tt.want)
			}
		})
	}
}

func TestDeviceSetPropertyRejected(t *testing.T) {
	caller := &fakeCaller{responses: map[string]string{
		"set_properties": `[{"did":"on","siid":2,"piid":1,"code":-4003}]`,
	}}
	dev := NewDevice(caller, testCollection())

	err := dev.SetProperty(context.Background(), "on", true)
	var devErr *DeviceError
	if !errors.As(err, &devErr) || devErr.Code != -4003 {
		t.Errorf("SetProperty() error = %v, want device code -4003", err)
	}
}

func TestDeviceCallAction(t *testing.T) {
	caller := &fakeCaller{responses: map[string]string{
		"action": `{"code":0}`,
	}}
	dev := NewDevice(caller, testCollection())

	if err := dev.CallAction(context.Background(), "toggle"); err != nil {
		t.Fatalf("CallAction() error = %v", err)
	}
	params := caller.calls[0].params.(miotAction)
	if params.SIID != 2 || params.AIID != 1 {
		t.Errorf("action params = %+v", params)
	}

	if err := dev.CallAction(context.Background(), "toggle", 1); err == nil {
		t.Error("CallAction() should reject excess arguments")
	}
	if err := dev.CallAction(context.Background(), "vanish"); err == nil {
		t.Error("CallAction() should reject unknown actions")
	}
}

func TestDeviceWithoutDescriptors(t *testing.T) {
	device := NewDevice(&fakeCaller{}, nil)
	ctx := context.Background()

	if device.Model() != "" {
		t.Errorf("Model() = %q, want empty", device.Model())
	}
	if _, err := device.Status(ctx); err == nil {
		t.Error("Status() should fail without a descriptor collection")
	}
	if err := device.SetProperty(ctx, "on", true); err == nil {
		t.Error("SetProperty() should fail without a descriptor collection")
	}
	if err := device.CallAction(ctx, "toggle"); err == nil {
		t.Error("CallAction() should fail without a descriptor collection")
	}
}

func TestDeviceErrorsPropagate(t *testing.T) {
	caller := &fakeCaller{err: newDeviceCodeError("192.0.2.1", deviceCodeTransient, "user ack timeout")}
	dev := NewDevice(caller, testCollection())

	_, err := dev.Status(context.Background())
	if !IsTransient(err) {
		t.Errorf("Status() error = %v, want transient device error", err)
	}
}
