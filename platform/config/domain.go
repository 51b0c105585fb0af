package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DomainSettings holds the locale-specific vocabulary and static rules that
// operators tune without a redeploy.
type DomainSettings struct {
	Vocabulary    VocabularySettings         `yaml:"vocabulary"`
	Reminders     []ReminderRuleSettings     `yaml:"reminders" validate:"dive"`
	AdminRoles    []string                   `yaml:"adminRoles"`
	AbsentMarkers []string                   `yaml:"absentHandleMarkers"`
	HandleField   string                     `yaml:"handleField"`
	Operators     map[string]OperatorSettings `yaml:"operators"`
}

// VocabularySettings lists the case-insensitive substrings used to classify
// service line titles.
type VocabularySettings struct {
	Consultation  []string `yaml:"consultation"`
	Online        []string `yaml:"online"`
	HairExtension []string `yaml:"hairExtension"`
}

// ReminderRuleSettings describes one configured reminder offset.
type ReminderRuleSettings struct {
	ID         string `yaml:"id" validate:"required,max=64"`
	OffsetDays int    `yaml:"offsetDays" validate:"min=0,max=365"`
	AppliesTo  string `yaml:"appliesTo" validate:"omitempty,oneof=consultation paid any"`
	Template   string `yaml:"template"`
	Active     *bool  `yaml:"active"`
}

// OperatorSettings lists the recipients of an operator alert set.
type OperatorSettings struct {
	Phones []string `yaml:"phones"`
	Emails []string `yaml:"emails"`
}

// DefaultDomainSettings returns the built-in settings used when no file is configured.
func DefaultDomainSettings() *DomainSettings {
	return &DomainSettings{
		Vocabulary: VocabularySettings{
			Consultation:  []string{"consultation", "консультац"},
			Online:        []string{"online", "онлайн"},
			HairExtension: []string{"hair extension", "наращивани"},
		},
		Reminders: []ReminderRuleSettings{
			{ID: "day-before", OffsetDays: 1, AppliesTo: "any", Template: "reminder"},
			{ID: "week-before", OffsetDays: 7, AppliesTo: "paid", Template: "reminder"},
		},
		AdminRoles:    []string{"admin", "administrator", "owner", "manager"},
		AbsentMarkers: []string{"-", "--", "no", "none", "нет", "net", "0"},
		HandleField:   "instagram",
		Operators:     map[string]OperatorSettings{},
	}
}

// LoadDomainSettings reads the YAML settings file at path. An empty path
// yields the defaults; missing sections in the file fall back to defaults.
func LoadDomainSettings(path string) (*DomainSettings, error) {
	settings := DefaultDomainSettings()
	if path == "" {
		return settings, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings, nil
		}
		return nil, fmt.Errorf("read domain settings: %w", err)
	}

	var parsed DomainSettings
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse domain settings %s: %w", path, err)
	}

	merge(settings, &parsed)
	return settings, nil
}

func merge(dst, src *DomainSettings) {
	if len(src.Vocabulary.Consultation) > 0 {
		dst.Vocabulary.Consultation = src.Vocabulary.Consultation
	}
	if len(src.Vocabulary.Online) > 0 {
		dst.Vocabulary.Online = src.Vocabulary.Online
	}
	if len(src.Vocabulary.HairExtension) > 0 {
		dst.Vocabulary.HairExtension = src.Vocabulary.HairExtension
	}
	if src.Reminders != nil {
		dst.Reminders = src.Reminders
	}
	if len(src.AdminRoles) > 0 {
		dst.AdminRoles = src.AdminRoles
	}
	if len(src.AbsentMarkers) > 0 {
		dst.AbsentMarkers = src.AbsentMarkers
	}
	if src.HandleField != "" {
		dst.HandleField = src.HandleField
	}
	if len(src.Operators) > 0 {
		dst.Operators = src.Operators
	}
}

// IsActive reports whether the rule is enabled; rules are active unless
// explicitly switched off.
func (r ReminderRuleSettings) IsActive() bool {
	return r.Active == nil || *r.Active
}
