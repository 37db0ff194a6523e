package demux

import (
	"math"
	"strconv"

	"github.com/nerrad567/reolink-core/internal/device"
)

// decoder turns the value of one response item into state updates. The
// command set is available for decoders that need per-device configuration.
type decoder func(value []byte, set device.CommandSet) []StateUpdate

// field maps one selector to one command.
type field struct {
	path      path
	logicalID string
}

func f(expr, logicalID string) field {
	return field{path: mustPath(expr), logicalID: logicalID}
}

// fields decodes a flat list of selectors. Missing fields are skipped.
func fields(list ...field) decoder {
	return func(value []byte, _ device.CommandSet) []StateUpdate {
		var out []StateUpdate
		for _, fl := range list {
			if v, ok := fl.path.text(value); ok {
				out = append(out, StateUpdate{LogicalID: fl.logicalID, Value: v})
			}
		}
		return out
	}
}

func noop(_ []byte, _ device.CommandSet) []StateUpdate { return nil }

// decoders is the closed set of response codes understood by the
// demultiplexer. V20 variants are separate entries: firmware answers either
// shape and the two never share a command.
var decoders = map[string]decoder{
	"GetRec": fields(
		f(".Rec.schedule.enable", "SetRecordState"),
		f(".Rec.preRec", "SetPreRecordState"),
		f(".Rec.overwrite", "SetOverwriteState"),
		f(".Rec.postRec", "SetPostRecordState"),
	),
	"GetRecV20": fields(
		f(".Rec.enable", "SetRecordStateV20"),
		f(".Rec.preRec", "SetPreRecordStateV20"),
		f(".Rec.overwrite", "SetOverwriteStateV20"),
		f(".Rec.postRec", "SetPostRecordStateV20"),
	),
	"GetHddInfo": decodeHddInfo,
	"GetOsd": fields(
		f(".Osd.watermark", "SetWatermarkState"),
		f(".Osd.osdTime.enable", "SetOsdTimeState"),
		f(".Osd.osdChannel.enable", "SetOsdChannelState"),
		f(".Osd.osdTime.pos", "SetPosOsdTimeState"),
		f(".Osd.osdChannel.pos", "SetPosOsdChannelState"),
	),
	"GetFtp":      fields(f(".Ftp.schedule.enable", "SetFTPState")),
	"GetFtpV20":   fields(f(".Ftp.enable", "SetFTPStateV20")),
	"GetPush":     fields(f(".Push.schedule.enable", "SetPushState")),
	"GetPushV20":  fields(f(".Push.enable", "SetPushStateV20")),
	"GetPushCfg":  fields(f(".PushCfg.pushInterval", "SetPushCfgState")),
	"GetEmail":    fields(f(".Email.schedule.enable", "SetEmailState")),
	"GetEmailV20": fields(f(".Email.enable", "SetEmailStateV20")),
	"GetEnc": fields(
		f(".Enc.audio", "SetMicrophoneState"),
		f(".Enc.mainStream.size", "SetResolutionst1State"),
		f(".Enc.mainStream.frameRate", "SetFPSst1State"),
		f(".Enc.mainStream.bitRate", "SetBitratest1State"),
		f(".Enc.subStream.size", "SetResolutionst2State"),
		f(".Enc.subStream.frameRate", "SetFPSst2State"),
		f(".Enc.subStream.bitRate", "SetBitratest2State"),
	),
	"GetIsp": fields(
		f(".Isp.rotation", "SetRotationState"),
		f(".Isp.mirroring", "SetMirroringState"),
		f(".Isp.antiFlicker", "SetAntiFlickerState"),
		f(".Isp.backLight", "SetBackLightState"),
		f(".Isp.blc", "SetBlcState"),
		f(".Isp.blueGain", "SetBlueGainState"),
		f(".Isp.dayNight", "SetDayNightState"),
		f(".Isp.drc", "SetDrcState"),
		f(".Isp.nr3d", "SetNr3dState"),
		f(".Isp.redGain", "SetRedGainState"),
		f(".Isp.whiteBalance", "SetWhiteBalanceState"),
		f(".Isp.exposure", "SetExposureState"),
	),
	"GetIrLights": fields(f(".IrLights.state", "SetIrLightsState")),
	"GetImage": fields(
		f(".Image.bright", "SetBrightState"),
		f(".Image.contrast", "SetContrastState"),
		f(".Image.saturation", "SetSaturationState"),
		f(".Image.hue", "SetHueState"),
		f(".Image.sharpen", "SetSharpenState"),
	),
	"GetWhiteLed": fields(
		f(".WhiteLed.state", "SetWhitLedState"),
		f(".WhiteLed.mode", "SetWhiteLedModeState"),
		f(".WhiteLed.bright", "SetWhitLedLuxState"),
	),
	"GetPtzPreset": noop,
	"GetPtzGuard": fields(
		f(".PtzGuard.bexistPos", "CheckIsExistsPtzGuardPoint"),
		f(".PtzGuard.benable", "SetAutoReturnPtzGuardPointState"),
		f(".PtzGuard.timeout", "SetIntervalAutoReturnPtzGuardPointState"),
	),
	"PtzCheck":         noop,
	"GetMdState":       noop,
	"GetPtzCheckState": decodePtzCheckState,
	"GetAlarm":         noop,
	"GetAudioAlarm":    fields(f(".Audio.schedule.enable", "SetAudioAlarmState")),
	"GetAudioAlarmV20": fields(f(".Audio.enable", "SetAudioAlarmStateV20")),
	"AudioAlarmPlay":   noop,
	"GetAudioCfg":      fields(f(".AudioCfg.volume", "SetSirenVolumeState")),
	"GetPowerLed":      fields(f(".PowerLed.state", "SetPowerLedState")),
	"GetAbility":       noop,
	"GetAutoFocus":     fields(f(".AutoFocus.disable", "SetAutoFocusState")),
	"GetMask":          fields(f(".Mask.enable", "SetMaskState")),
	"GetAutoMaint":     fields(f(".AutoMaint.enable", "SetAutoMaintState")),
	"GetUpnp":          fields(f(".Upnp.enable", "SetUpnpState")),
	"GetP2p":           fields(f(".P2p.enable", "SetUidP2pState")),
	"GetZoomFocus": fields(
		f(".ZoomFocus.zoom.pos", "SetZoomState"),
		f(".ZoomFocus.focus.pos", "SetFocusState"),
	),
	"GetPerformance": fields(
		f(".Performance.cpuUsed", "SetCpuUsedState"),
		f(".Performance.netThroughput", "SetNetThroughputState"),
		f(".Performance.codecRate", "SetCodecRateState"),
	),
	"GetAiCfg":   fields(f(".aiTrack", "SetaiTrackState")),
	"GetMdAlarm": decodeMdAlarm,
	"GetAiAlarm": decodeAiAlarm,
}

var (
	hddFormat      = mustPath(".HddInfo.[0].format")
	hddMount       = mustPath(".HddInfo.[0].mount")
	hddSize        = mustPath(".HddInfo.[0].size")
	hddCapacity    = mustPath(".HddInfo.[0].capacity")
	hddStorageType = mustPath(".HddInfo.[0].storageType")
)

// decodeHddInfo reads the first drive only.
func decodeHddInfo(value []byte, _ device.CommandSet) []StateUpdate {
	available := "0"
	format, _ := hddFormat.text(value)
	mount, _ := hddMount.text(value)
	if format == "1" && mount == "1" {
		available = "1"
	}
	out := []StateUpdate{{LogicalID: "driveAvailable", Value: available}}

	size, okSize := hddSize.number(value)
	capacity, okCap := hddCapacity.number(value)
	if okSize && okCap && capacity > 0 {
		pct := roundHalfDown(size * 100 / capacity)
		out = append(out, StateUpdate{LogicalID: "driveSpaceAvailable", Value: strconv.FormatFloat(pct, 'f', -1, 64)})
	}

	if st, ok := hddStorageType.text(value); ok {
		switch st {
		case "1":
			out = append(out, StateUpdate{LogicalID: "driveType", Value: "HDD"})
		case "2":
			out = append(out, StateUpdate{LogicalID: "driveType", Value: "Sdcard"})
		}
	}
	return out
}

// roundHalfDown rounds to the nearest integer, ties toward negative infinity.
func roundHalfDown(x float64) float64 {
	return math.Ceil(x - 0.5)
}

var ptzCheckState = mustPath(".PtzCheckState")

var ptzCheckLabels = map[string]string{
	"0": "REQUISE",
	"1": "EN COURS",
	"2": "TERMINEE",
}

func decodePtzCheckState(value []byte, _ device.CommandSet) []StateUpdate {
	v, ok := ptzCheckState.text(value)
	if !ok {
		return nil
	}
	label, ok := ptzCheckLabels[v]
	if !ok {
		return nil
	}
	return []StateUpdate{{LogicalID: "SetPtzCheckState", Value: label}}
}

var mdSensDef = mustPath(".MdAlarm.newSens.sensDef")

// decodeMdAlarm converts the device's inverted sensitivity scale. The
// baseline is the state command's revert value, or the matching action's
// when the state command has none, and zero when neither does.
func decodeMdAlarm(value []byte, set device.CommandSet) []StateUpdate {
	sens, ok := mdSensDef.number(value)
	if !ok {
		return nil
	}
	baseline := 0
	if c, ok := set.Lookup("SetMdDefaultSensitivityState"); ok {
		baseline = c.RevertBaseline
	}
	if baseline == 0 {
		if c, ok := set.Lookup("SetMdDefaultSensitivity"); ok {
			baseline = c.RevertBaseline
		}
	}
	v := float64(baseline) - sens
	return []StateUpdate{{LogicalID: "SetMdDefaultSensitivityState", Value: strconv.FormatFloat(v, 'f', -1, 64)}}
}

var (
	aiType        = mustPath(".AiAlarm.ai_type")
	aiSensitivity = mustPath(".AiAlarm.sensitivity")
	aiStayTime    = mustPath(".AiAlarm.stay_time")
)

var aiTypeSuffix = map[string]string{
	"people":  "People",
	"vehicle": "Vehicle",
	"dog_cat": "DogCat",
}

func decodeAiAlarm(value []byte, _ device.CommandSet) []StateUpdate {
	t, _ := aiType.text(value)
	suffix, ok := aiTypeSuffix[t]
	if !ok {
		return nil
	}
	var out []StateUpdate
	if v, ok := aiSensitivity.text(value); ok {
		out = append(out, StateUpdate{LogicalID: "SetSdSensitivity" + suffix + "State", Value: v})
	}
	if v, ok := aiStayTime.text(value); ok {
		out = append(out, StateUpdate{LogicalID: "SetAlarmDelay" + suffix + "State", Value: v})
	}
	return out
}

// Handles reports whether code has a decoder.
func Handles(code string) bool {
	_, ok := decoders[code]
	return ok
}
