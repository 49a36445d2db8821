// internal/data/parser.go
package data

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultAudioThreshold is used when a reading omits the detector threshold.
const DefaultAudioThreshold = 0.50

var ErrEmptyPayload = errors.New("empty payload")

// sensorPayload accepts both the documented keys and the ones the field
// node firmware publishes.
type sensorPayload struct {
	Temp           *float64                   `json:"temp"`
	Hum            *float64                   `json:"hum"`
	GasSignal      *float64                   `json:"gas_signal"`
	GasMQ2         *float64                   `json:"gas_mq2"`
	Distance       *float64                   `json:"distance"`
	Distancia      *float64                   `json:"distancia"`
	Motion         *bool                      `json:"motion_detected"`
	Movimiento     *bool                      `json:"movimiento_detectado"`
	AudioThreshold *float64                   `json:"audio_threshold"`
	UmbralAudio    *float64                   `json:"umbral_audio_actual"`
	Hardware       map[string]json.RawMessage `json:"hardware"`
	SensorStatus   map[string]json.RawMessage `json:"sensor_status"`
	EstadoSensores map[string]json.RawMessage `json:"estado_sensores"`
}

type alertPayload struct {
	Probability  *float64 `json:"probability"`
	Probabilidad *float64 `json:"probabilidad"`
	Timestamp    float64  `json:"timestamp"`
	Audio        string   `json:"audio"`
}

type audioPayload struct {
	Timestamp float64 `json:"timestamp"`
	Audio     string  `json:"audio"`
}

// ParseSensorReading decodes a sensors topic payload. Missing scalars
// fall back to the values the node omits when a sensor is unplugged:
// zero readings, clean air and the default audio threshold.
func ParseSensorReading(raw []byte, receivedAt time.Time) (*SensorReading, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyPayload
	}
	var p sensorPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode sensor reading: %w", err)
	}

	gas := firstFloat(1, p.GasSignal, p.GasMQ2)
	r := &SensorReading{
		Temperature:    firstFloat(0, p.Temp),
		Humidity:       firstFloat(0, p.Hum),
		GasClean:       gas != 0,
		DistanceCm:     firstFloat(0, p.Distance, p.Distancia),
		MotionDetected: firstBool(p.Motion, p.Movimiento),
		AudioThreshold: firstFloat(DefaultAudioThreshold, p.AudioThreshold, p.UmbralAudio),
		Device:         parseHardware(p.Hardware),
		ReceivedAt:     receivedAt,
	}

	statuses := p.SensorStatus
	if statuses == nil {
		statuses = p.EstadoSensores
	}
	r.SensorStatuses = make(map[string]bool, len(statuses))
	for name, v := range statuses {
		r.SensorStatuses[name] = parseOnline(v)
	}
	return r, nil
}

// ParseGunshotAlert decodes an alerts topic payload.
func ParseGunshotAlert(raw []byte, receivedAt time.Time) (*GunshotAlert, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyPayload
	}
	var p alertPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode gunshot alert: %w", err)
	}
	if p.Probability == nil && p.Probabilidad == nil {
		return nil, errors.New("decode gunshot alert: missing probability")
	}
	prob := firstFloat(0, p.Probability, p.Probabilidad)
	if prob < 0 || prob > 1 {
		return nil, fmt.Errorf("decode gunshot alert: probability %.3f out of range", prob)
	}
	audio, err := decodeAudio(p.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode gunshot alert: %w", err)
	}
	return &GunshotAlert{
		Probability: prob,
		Timestamp:   epochToTime(p.Timestamp, receivedAt),
		Audio:       audio,
		ReceivedAt:  receivedAt,
	}, nil
}

// ParseAudioFrame decodes an audio monitor payload.
func ParseAudioFrame(raw []byte, receivedAt time.Time) (*AudioFrame, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyPayload
	}
	var p audioPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode audio frame: %w", err)
	}
	audio, err := decodeAudio(p.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode audio frame: %w", err)
	}
	return &AudioFrame{
		Timestamp:  epochToTime(p.Timestamp, receivedAt),
		Audio:      audio,
		ReceivedAt: receivedAt,
	}, nil
}

// ParseDeviceMetadata decodes the device topic. Any JSON object is accepted.
func ParseDeviceMetadata(raw []byte) (DeviceMetadata, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyPayload
	}
	var m DeviceMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode device metadata: %w", err)
	}
	if m == nil {
		return nil, errors.New("decode device metadata: not an object")
	}
	return m, nil
}

func parseHardware(hw map[string]json.RawMessage) DeviceInfo {
	var info DeviceInfo
	for _, key := range []string{"model", "modelo_rpi"} {
		if v, ok := hw[key]; ok {
			_ = json.Unmarshal(v, &info.Model)
			break
		}
	}
	for _, key := range []string{"cpu_temp", "cpu_temp_c"} {
		if v, ok := hw[key]; ok {
			_ = json.Unmarshal(v, &info.CPUTempC)
			break
		}
	}
	if v, ok := hw["hostname"]; ok {
		_ = json.Unmarshal(v, &info.Hostname)
	}
	return info
}

// parseOnline understands "ONLINE"/"OFFLINE" strings, booleans and
// objects carrying a connected flag.
func parseOnline(raw json.RawMessage) bool {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.EqualFold(strings.TrimSpace(s), "ONLINE")
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, key := range []string{"connected", "conectado", "online"} {
			if v, ok := obj[key].(bool); ok && v {
				return true
			}
		}
		return strings.Contains(string(raw), "ONLINE")
	}
	return false
}

func decodeAudio(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("audio is not base64: %w", err)
	}
	return b, nil
}

func epochToTime(epoch float64, fallback time.Time) time.Time {
	if epoch <= 0 || math.IsNaN(epoch) || math.IsInf(epoch, 0) {
		return fallback
	}
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func firstFloat(def float64, vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return def
}

func firstBool(vals ...*bool) bool {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return false
}
