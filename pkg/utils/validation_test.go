package utils

import (
	"testing"
)

func TestValidateCommandArgument(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{name: "numeric alert id", value: "1234", wantErr: false},
		{name: "dotted alert id", value: "DualPathToDiskShelf_Alert.node1", wantErr: false},
		{name: "empty", value: "", wantErr: true},
		{name: "command separator", value: "1; system node halt", wantErr: true},
		{name: "pipe", value: "1|cat", wantErr: true},
		{name: "substitution", value: "$(id)", wantErr: true},
		{name: "newline", value: "1\nversion", wantErr: true},
		{name: "space", value: "1 -node x", wantErr: true},
		{name: "quote", value: "1'", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCommandArgument("alert id", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCommandArgument(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRegistration(t *testing.T) {
	tests := []struct {
		name         string
		manufacturer string
		model        string
		host         string
		port         int
		username     string
		password     string
		wantErr      bool
	}{
		{name: "valid netapp", manufacturer: "netapp", model: "cmode", host: "10.0.0.5", port: 22, username: "admin", password: "secret"},
		{name: "valid hostname", manufacturer: "fake", model: "storage", host: "array1.storage.lan", port: 2222, username: "svc.sync", password: "x"},
		{name: "valid ipv6", manufacturer: "netapp", model: "cmode", host: "fd00::5", port: 22, username: "admin", password: "x"},
		{name: "upper case manufacturer", manufacturer: "NetApp", model: "cmode", host: "h", port: 22, username: "admin", password: "x", wantErr: true},
		{name: "empty model", manufacturer: "netapp", model: "", host: "h", port: 22, username: "admin", password: "x", wantErr: true},
		{name: "empty host", manufacturer: "netapp", model: "cmode", host: "", port: 22, username: "admin", password: "x", wantErr: true},
		{name: "host with user", manufacturer: "netapp", model: "cmode", host: "root@h", port: 22, username: "admin", password: "x", wantErr: true},
		{name: "host with port", manufacturer: "netapp", model: "cmode", host: "h:22", port: 22, username: "admin", password: "x", wantErr: true},
		{name: "port zero", manufacturer: "netapp", model: "cmode", host: "h", port: 0, username: "admin", password: "x", wantErr: true},
		{name: "port too large", manufacturer: "netapp", model: "cmode", host: "h", port: 70000, username: "admin", password: "x", wantErr: true},
		{name: "username with space", manufacturer: "netapp", model: "cmode", host: "h", port: 22, username: "ad min", password: "x", wantErr: true},
		{name: "empty password", manufacturer: "netapp", model: "cmode", host: "h", port: 22, username: "admin", password: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRegistration(tt.manufacturer, tt.model, tt.host, tt.port, tt.username, tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRegistration() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
