package demux

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/reolink-core/internal/catalog"
	"github.com/nerrad567/reolink-core/internal/device"
	"github.com/nerrad567/reolink-core/internal/transport"
)

var testDevice = &device.Device{ID: "cam-1", Name: "Porch"}

func infoSet(ids ...string) device.CommandSet {
	set := make(device.CommandSet, 0, len(ids))
	for i, id := range ids {
		set = append(set, device.Command{DeviceID: "cam-1", LogicalID: id, Kind: catalog.KindInfo, Order: i})
	}
	return set
}

func result(code, value string) transport.Result {
	return transport.Result{Code: code, Value: json.RawMessage(value)}
}

func toMap(updates []StateUpdate) map[string]string {
	m := make(map[string]string, len(updates))
	for _, u := range updates {
		m[u.LogicalID] = u.Value
	}
	return m
}

func assertUpdates(t *testing.T, got []StateUpdate, want map[string]string) {
	t.Helper()
	m := toMap(got)
	if len(m) != len(want) {
		t.Fatalf("got %d updates %v, want %d %v", len(m), m, len(want), want)
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("%s = %q, want %q", k, m[k], v)
		}
	}
}

func TestApply_HddInfo(t *testing.T) {
	set := infoSet("driveAvailable", "driveSpaceAvailable", "driveType")

	tests := []struct {
		name  string
		value string
		want  map[string]string
	}{
		{
			name:  "mounted hdd",
			value: `{"HddInfo":[{"size":50,"capacity":200,"format":1,"mount":1,"storageType":1}]}`,
			want:  map[string]string{"driveAvailable": "1", "driveSpaceAvailable": "25", "driveType": "HDD"},
		},
		{
			name:  "half rounds down",
			value: `{"HddInfo":[{"size":25,"capacity":200,"format":1,"mount":1,"storageType":2}]}`,
			want:  map[string]string{"driveAvailable": "1", "driveSpaceAvailable": "12", "driveType": "Sdcard"},
		},
		{
			name:  "above half rounds up",
			value: `{"HddInfo":[{"size":2,"capacity":3,"format":1,"mount":0,"storageType":9}]}`,
			want:  map[string]string{"driveAvailable": "0", "driveSpaceAvailable": "67"},
		},
		{
			name:  "zero capacity",
			value: `{"HddInfo":[{"size":0,"capacity":0,"format":0,"mount":0}]}`,
			want:  map[string]string{"driveAvailable": "0"},
		},
		{
			name:  "no drive",
			value: `{"HddInfo":[]}`,
			want:  map[string]string{"driveAvailable": "0"},
		},
	}

	d := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, diags := d.Apply(testDevice, set, []transport.Result{result("GetHddInfo", tt.value)})
			if len(diags) != 0 {
				t.Fatalf("unexpected diagnostics: %v", diags)
			}
			assertUpdates(t, got, tt.want)
		})
	}
}

func TestApply_V20VariantsAreIndependent(t *testing.T) {
	set := infoSet("SetRecordStateV20", "SetPreRecordStateV20", "SetFTPStateV20")
	results := []transport.Result{
		result("GetRec", `{"Rec":{"schedule":{"enable":0},"preRec":0}}`),
		result("GetRecV20", `{"Rec":{"enable":1,"preRec":1,"overwrite":1}}`),
		result("GetFtpV20", `{"Ftp":{"enable":1,"schedule":{"enable":0}}}`),
	}

	got, diags := New().Apply(testDevice, set, results)
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	assertUpdates(t, got, map[string]string{
		"SetRecordStateV20":    "1",
		"SetPreRecordStateV20": "1",
		"SetFTPStateV20":       "1",
	})
}

func TestApply_FieldTables(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		value string
		want  map[string]string
	}{
		{
			name:  "osd strings and flags",
			code:  "GetOsd",
			value: `{"Osd":{"watermark":1,"osdTime":{"enable":0,"pos":"Upper Right"},"osdChannel":{"enable":1,"pos":"Lower Left"}}}`,
			want: map[string]string{
				"SetWatermarkState":     "1",
				"SetOsdTimeState":       "0",
				"SetOsdChannelState":    "1",
				"SetPosOsdTimeState":    "Upper Right",
				"SetPosOsdChannelState": "Lower Left",
			},
		},
		{
			name:  "encoder streams",
			code:  "GetEnc",
			value: `{"Enc":{"audio":1,"mainStream":{"size":"2560*1440","frameRate":25,"bitRate":6144},"subStream":{"size":"640*360","frameRate":15,"bitRate":256}}}`,
			want: map[string]string{
				"SetMicrophoneState":    "1",
				"SetResolutionst1State": "2560*1440",
				"SetFPSst1State":        "25",
				"SetBitratest1State":    "6144",
				"SetResolutionst2State": "640*360",
				"SetFPSst2State":        "15",
				"SetBitratest2State":    "256",
			},
		},
		{
			name:  "missing fields skipped",
			code:  "GetImage",
			value: `{"Image":{"bright":128,"hue":null}}`,
			want:  map[string]string{"SetBrightState": "128"},
		},
		{
			name:  "booleans",
			code:  "GetPtzGuard",
			value: `{"PtzGuard":{"bexistPos":true,"benable":false,"timeout":60}}`,
			want: map[string]string{
				"CheckIsExistsPtzGuardPoint":              "1",
				"SetAutoReturnPtzGuardPointState":         "0",
				"SetIntervalAutoReturnPtzGuardPointState": "60",
			},
		},
		{
			name:  "ptz check in progress",
			code:  "GetPtzCheckState",
			value: `{"PtzCheckState":1}`,
			want:  map[string]string{"SetPtzCheckState": "EN COURS"},
		},
		{
			name:  "ptz check unknown state",
			code:  "GetPtzCheckState",
			value: `{"PtzCheckState":7}`,
			want:  map[string]string{},
		},
		{
			name:  "performance",
			code:  "GetPerformance",
			value: `{"Performance":{"cpuUsed":37,"netThroughput":0,"codecRate":2048}}`,
			want: map[string]string{
				"SetCpuUsedState":       "37",
				"SetNetThroughputState": "0",
				"SetCodecRateState":     "2048",
			},
		},
		{
			name:  "ai tracking",
			code:  "GetAiCfg",
			value: `{"aiTrack":1,"AiDetectType":{"people":1}}`,
			want:  map[string]string{"SetaiTrackState": "1"},
		},
		{
			name:  "no-op code",
			code:  "GetAbility",
			value: `{"Ability":{"abilityChn":[]}}`,
			want:  map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids []string
			for k := range tt.want {
				ids = append(ids, k)
			}
			got, diags := New().Apply(testDevice, infoSet(ids...), []transport.Result{result(tt.code, tt.value)})
			if len(diags) != 0 {
				t.Fatalf("unexpected diagnostics: %v", diags)
			}
			assertUpdates(t, got, tt.want)
		})
	}
}

func TestApply_MdAlarmUsesRevertBaseline(t *testing.T) {
	set := infoSet("SetMdDefaultSensitivityState")
	set[0].RevertBaseline = 51

	got, _ := New().Apply(testDevice, set, []transport.Result{
		result("GetMdAlarm", `{"MdAlarm":{"newSens":{"sensDef":41}}}`),
	})
	assertUpdates(t, got, map[string]string{"SetMdDefaultSensitivityState": "10"})
}

func TestApply_MdAlarmFallsBackToActionBaseline(t *testing.T) {
	set := infoSet("SetMdDefaultSensitivityState")
	set = append(set, device.Command{LogicalID: "SetMdDefaultSensitivity", Kind: catalog.KindAction, RevertBaseline: 51})

	got, _ := New().Apply(testDevice, set, []transport.Result{
		result("GetMdAlarm", `{"MdAlarm":{"newSens":{"sensDef":1}}}`),
	})
	assertUpdates(t, got, map[string]string{"SetMdDefaultSensitivityState": "50"})
}

func TestApply_MdAlarmWithoutBaseline(t *testing.T) {
	got, _ := New().Apply(testDevice, infoSet("SetMdDefaultSensitivityState"), []transport.Result{
		result("GetMdAlarm", `{"MdAlarm":{"newSens":{"sensDef":41}}}`),
	})
	assertUpdates(t, got, map[string]string{"SetMdDefaultSensitivityState": "-41"})
}

func TestApply_AiAlarmDispatch(t *testing.T) {
	set := infoSet(
		"SetSdSensitivityPeopleState", "SetAlarmDelayPeopleState",
		"SetSdSensitivityVehicleState", "SetAlarmDelayVehicleState",
		"SetSdSensitivityDogCatState", "SetAlarmDelayDogCatState",
	)

	tests := []struct {
		name  string
		value string
		want  map[string]string
	}{
		{"people", `{"AiAlarm":{"ai_type":"people","sensitivity":60,"stay_time":2}}`,
			map[string]string{"SetSdSensitivityPeopleState": "60", "SetAlarmDelayPeopleState": "2"}},
		{"vehicle", `{"AiAlarm":{"ai_type":"vehicle","sensitivity":40,"stay_time":0}}`,
			map[string]string{"SetSdSensitivityVehicleState": "40", "SetAlarmDelayVehicleState": "0"}},
		{"dog cat", `{"AiAlarm":{"ai_type":"dog_cat","sensitivity":75,"stay_time":5}}`,
			map[string]string{"SetSdSensitivityDogCatState": "75", "SetAlarmDelayDogCatState": "5"}},
		{"unknown type", `{"AiAlarm":{"ai_type":"face","sensitivity":10,"stay_time":1}}`,
			map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, diags := New().Apply(testDevice, set, []transport.Result{result("GetAiAlarm", tt.value)})
			if len(diags) != 0 {
				t.Fatalf("unexpected diagnostics: %v", diags)
			}
			assertUpdates(t, got, tt.want)
		})
	}
}

func TestApply_UnmappedCodeDoesNotStopCycle(t *testing.T) {
	set := infoSet("SetIrLightsState", "SetPowerLedState")
	results := []transport.Result{
		result("GetIrLights", `{"IrLights":{"state":"Auto"}}`),
		result("GetSomethingNew", `{"Thing":{"x":1}}`),
		result("GetPowerLed", `{"PowerLed":{"state":"On"}}`),
	}

	got, diags := New().Apply(testDevice, set, results)
	assertUpdates(t, got, map[string]string{"SetIrLightsState": "Auto", "SetPowerLedState": "On"})
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	if !errors.Is(diags[0].Err, ErrUnmappedResponseCode) {
		t.Errorf("diagnostic error = %v, want ErrUnmappedResponseCode", diags[0].Err)
	}
	if diags[0].Code != "GetSomethingNew" {
		t.Errorf("diagnostic code = %q", diags[0].Code)
	}
}

func TestApply_RejectedItem(t *testing.T) {
	set := infoSet("SetUpnpState", "SetMaskState")
	results := []transport.Result{
		{Code: "GetUpnp", Status: 1, Error: &transport.DeviceError{Detail: "not support", RspCode: -9}},
		result("GetMask", `{"Mask":{"enable":1}}`),
	}

	got, diags := New().Apply(testDevice, set, results)
	assertUpdates(t, got, map[string]string{"SetMaskState": "1"})
	if len(diags) != 1 || !errors.Is(diags[0].Err, ErrDeviceRejected) {
		t.Fatalf("diagnostics = %v, want one ErrDeviceRejected", diags)
	}
}

func TestApply_DiscardsUpdatesWithoutCommand(t *testing.T) {
	got, diags := New().Apply(testDevice, infoSet("SetHueState"), []transport.Result{
		result("GetImage", `{"Image":{"bright":1,"contrast":2,"hue":3}}`),
	})
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	assertUpdates(t, got, map[string]string{"SetHueState": "3"})
}

func TestRoundHalfDown(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{12.5, 12},
		{12.51, 13},
		{12.49, 12},
		{0.5, 0},
		{99.5, 99},
		{100, 100},
	}
	for _, tt := range tests {
		if got := roundHalfDown(tt.in); got != tt.want {
			t.Errorf("roundHalfDown(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHandles(t *testing.T) {
	for _, code := range []string{"GetRec", "GetRecV20", "GetHddInfo", "GetAiAlarm", "PtzCheck", "AudioAlarmPlay"} {
		if !Handles(code) {
			t.Errorf("Handles(%q) = false", code)
		}
	}
	if Handles("GetUnknown") {
		t.Error("Handles(GetUnknown) = true")
	}
}
