// Package profile is the persistent device configuration: a typed key/value
// store notified on change and persisted as one JSON blob on durable storage.
package profile

import (
	"encoding/binary"
	"math"
	"strconv"
	"sync"

	"powerbox-go/conf"
	"powerbox-go/errcode"
	"powerbox-go/hal"
	"powerbox-go/logging"
	"powerbox-go/state"
)

type Key uint8

const (
	KeyATS                Key = 0x01
	KeyWifiSSID           Key = 0x02
	KeyWifiPassword       Key = 0x03
	KeyMinCellVoltage     Key = 0x04
	KeyMaxCellVoltage     Key = 0x05
	KeyPSUTurbo           Key = 0x06
	KeyPSUCurrentChannel  Key = 0x07
	KeyMCUSelfConsumption Key = 0x08
	KeyModel              Key = 0x09
)

type DataType uint8

const (
	TypeBool DataType = iota
	TypeInt8
	TypeInt32
	TypeFloat32
	TypeString
)

var keyTypes = map[Key]DataType{
	KeyATS:                TypeBool,
	KeyWifiSSID:           TypeString,
	KeyWifiPassword:       TypeString,
	KeyMinCellVoltage:     TypeFloat32,
	KeyMaxCellVoltage:     TypeFloat32,
	KeyPSUTurbo:           TypeBool,
	KeyPSUCurrentChannel:  TypeInt8,
	KeyMCUSelfConsumption: TypeFloat32,
	KeyModel:              TypeString,
}

// Store owns the profile map. Values are native-typed; raw wire values are
// cast through the key's declared type on SetRaw.
type Store struct {
	*state.Base

	mu       sync.Mutex
	values   map[Key]any
	storage  hal.Storage
	filename string
	log      *logging.Logger
}

// New loads the profile from storage, falling back to compile-time defaults
// when the blob is missing or unreadable.
func New(storage hal.Storage, filename string, log *logging.Logger) *Store {
	s := &Store{
		Base:     state.NewBase(state.Config{Name: "PROFILE", Log: log}),
		storage:  storage,
		filename: filename,
		log:      log,
	}
	raw, err := storage.ReadFile(filename)
	if err == nil {
		if vals, ok := parse(raw); ok {
			s.values = vals
			return s
		}
		if log != nil {
			log.Error("profile blob unreadable, using defaults")
		}
	}
	s.values = defaults()
	_ = s.persist()
	return s
}

func defaults() map[Key]any {
	return map[Key]any{
		KeyATS:                false,
		KeyWifiSSID:           "",
		KeyWifiPassword:       "",
		KeyMinCellVoltage:     conf.InverterMinCellVoltage,
		KeyMaxCellVoltage:     conf.PSUMaxCellVoltage,
		KeyPSUTurbo:           false,
		KeyPSUCurrentChannel:  2,
		KeyMCUSelfConsumption: float32(0),
		KeyModel:              conf.Model,
	}
}

// ---- Typed getters ----

func (s *Store) GetBool(k Key, def bool) bool {
	if v, ok := s.get(k).(bool); ok {
		return v
	}
	return def
}

func (s *Store) GetInt(k Key, def int) int {
	if v, ok := s.get(k).(int); ok {
		return v
	}
	return def
}

func (s *Store) GetFloat(k Key, def float32) float32 {
	if v, ok := s.get(k).(float32); ok {
		return v
	}
	return def
}

func (s *Store) GetString(k Key, def string) string {
	if v, ok := s.get(k).(string); ok && v != "" {
		return v
	}
	return def
}

func (s *Store) get(k Key) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[k]
}

// ---- Setters ----

// SetRaw casts a wire value through the key's declared type, stores it,
// persists the map and notifies CHANGE.
func (s *Store) SetRaw(k Key, raw []byte) error {
	v, err := cast(k, raw)
	if err != nil {
		return err
	}
	return s.Set(k, v)
}

// Set stores an already-native value, persists and notifies CHANGE.
func (s *Store) Set(k Key, v any) error {
	if _, ok := keyTypes[k]; !ok {
		return errcode.UnknownKey
	}
	s.mu.Lock()
	s.values[k] = normalize(v)
	s.mu.Unlock()
	err := s.persist()
	s.Notify()
	return err
}

func normalize(v any) any {
	switch x := v.(type) {
	case float64:
		return float32(x)
	case uint8:
		return int(x)
	case int8:
		return int(x)
	case int32:
		return int(x)
	default:
		return v
	}
}

func cast(k Key, raw []byte) (any, error) {
	t, ok := keyTypes[k]
	if !ok {
		return nil, errcode.UnknownKey
	}
	switch t {
	case TypeBool:
		if len(raw) < 1 {
			return nil, errcode.BadPayload
		}
		return raw[len(raw)-1] != 0, nil
	case TypeInt8:
		if len(raw) < 1 {
			return nil, errcode.BadPayload
		}
		return int(raw[len(raw)-1]), nil
	case TypeInt32:
		if len(raw) < 4 {
			return nil, errcode.BadPayload
		}
		return int(int32(binary.BigEndian.Uint32(raw))), nil
	case TypeFloat32:
		if len(raw) < 4 {
			return nil, errcode.BadPayload
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(raw)), nil
	case TypeString:
		return string(raw), nil
	}
	return nil, errcode.Unsupported
}

// ---- Persistence ----

// persist writes the whole map synchronously. Keys are hex-stringified.
func (s *Store) persist() error {
	s.mu.Lock()
	blob := marshal(s.values)
	s.mu.Unlock()
	if err := s.storage.WriteFile(s.filename, blob); err != nil {
		if s.log != nil {
			s.log.Error("profile persist failed:", err)
		}
		return errcode.Wrap(errcode.Storage, "profile.persist", err)
	}
	return nil
}

func keyName(k Key) string { return "0x" + strconv.FormatUint(uint64(k), 16) }
