// Package directory maps transport topics and payload fields to registered sensors.
package directory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"roomwatch/internal/models"
)

// SensorSpec describes one physical sensor.
type SensorSpec struct {
	ID         string            `mapstructure:"id"`
	Type       string            `mapstructure:"type"`
	Topic      string            `mapstructure:"topic"`
	RoomID     string            `mapstructure:"room_id"`
	RoomName   string            `mapstructure:"room_name"`
	Parameters []string          `mapstructure:"parameters"`
	Aliases    map[string]string `mapstructure:"aliases"`
}

// FieldSpec binds one field of a combined board payload to a sensor.
type FieldSpec struct {
	Sensor    string `mapstructure:"sensor"`
	Parameter string `mapstructure:"parameter"`
}

// BoardSpec describes a board publishing several sensors in one payload.
type BoardSpec struct {
	Fields map[string]FieldSpec `mapstructure:"fields"`
}

// File is the on-disk layout of the sensor directory.
type File struct {
	Sensors []SensorSpec         `mapstructure:"sensors"`
	Boards  map[string]BoardSpec `mapstructure:"boards"`
}

var (
	ErrEmptySensorID   = errors.New("directory: sensor id is required")
	ErrEmptySensorType = errors.New("directory: sensor type is required")
	ErrDuplicateSensor = errors.New("directory: duplicate sensor id")
	ErrUnknownSensor   = errors.New("directory: board field references unknown sensor")
)

// Directory resolves topic types and fields to sensor bindings. It is read-only after construction.
type Directory struct {
	byID    map[string]SensorSpec
	byTopic map[string][]SensorSpec
	boards  map[string]map[string]FieldSpec
	rooms   map[string]string
}

// Load reads a directory file (YAML, JSON or TOML by extension).
func Load(path string) (*Directory, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("directory: read %s: %w", path, err)
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("directory: decode %s: %w", path, err)
	}
	return New(f)
}

// New validates f and builds the lookup tables. Keys are matched case-insensitively.
func New(f File) (*Directory, error) {
	d := &Directory{
		byID:    make(map[string]SensorSpec, len(f.Sensors)),
		byTopic: make(map[string][]SensorSpec),
		boards:  make(map[string]map[string]FieldSpec, len(f.Boards)),
		rooms:   make(map[string]string),
	}

	for _, s := range f.Sensors {
		if s.ID == "" {
			return nil, ErrEmptySensorID
		}
		if s.Type == "" {
			return nil, fmt.Errorf("%w: sensor %s", ErrEmptySensorType, s.ID)
		}
		if _, dup := d.byID[s.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSensor, s.ID)
		}

		aliases := make(map[string]string, len(s.Aliases))
		for k, v := range s.Aliases {
			aliases[strings.ToLower(k)] = v
		}
		s.Aliases = aliases

		topic := s.Topic
		if topic == "" {
			topic = s.Type
		}
		topic = strings.ToLower(topic)

		d.byID[s.ID] = s
		d.byTopic[topic] = append(d.byTopic[topic], s)
		if s.RoomID != "" && s.RoomName != "" {
			d.rooms[s.RoomID] = s.RoomName
		}
	}

	for name, board := range f.Boards {
		fields := make(map[string]FieldSpec, len(board.Fields))
		for field, spec := range board.Fields {
			if _, ok := d.byID[spec.Sensor]; !ok {
				return nil, fmt.Errorf("%w: %s.%s -> %q", ErrUnknownSensor, name, field, spec.Sensor)
			}
			fields[strings.ToLower(field)] = spec
		}
		d.boards[strings.ToLower(name)] = fields
	}

	return d, nil
}

// Resolve implements models.SensorResolver.
func (d *Directory) Resolve(topicType, field string) (models.Binding, bool) {
	tt := strings.ToLower(topicType)
	f := strings.ToLower(field)

	if board, ok := d.boards[tt]; ok {
		if spec, ok := board[f]; ok {
			param := spec.Parameter
			if param == "" {
				param = field
			}
			return bind(d.byID[spec.Sensor], param), true
		}
	}

	for _, s := range d.byTopic[tt] {
		if param, ok := s.Aliases[f]; ok {
			return bind(s, param), true
		}
		for _, p := range s.Parameters {
			if strings.ToLower(p) == f {
				return bind(s, p), true
			}
		}
	}
	return models.Binding{}, false
}

// ResolveSensor implements models.SensorResolver for topics naming the sensor.
// Unregistered sensors are accepted under the topic type; registered ones
// must list the parameter when they declare any.
func (d *Directory) ResolveSensor(topicType, sensorID, parameter string) (models.Binding, bool) {
	s, ok := d.byID[sensorID]
	if !ok {
		return models.Binding{SensorID: sensorID, SensorType: topicType, Parameter: parameter}, true
	}

	f := strings.ToLower(parameter)
	if param, ok := s.Aliases[f]; ok {
		return bind(s, param), true
	}
	if len(s.Parameters) == 0 {
		return bind(s, parameter), true
	}
	for _, p := range s.Parameters {
		if strings.ToLower(p) == f {
			return bind(s, p), true
		}
	}
	return models.Binding{}, false
}

// RoomName returns the display name of a room, falling back to its id.
func (d *Directory) RoomName(roomID string) string {
	if name, ok := d.rooms[roomID]; ok {
		return name
	}
	return roomID
}

// Len returns the number of registered sensors.
func (d *Directory) Len() int {
	return len(d.byID)
}

func bind(s SensorSpec, param string) models.Binding {
	return models.Binding{
		SensorID:   s.ID,
		SensorType: s.Type,
		RoomID:     s.RoomID,
		RoomName:   s.RoomName,
		Parameter:  param,
	}
}
