package bridge

import (
	"strings"
)

// CommandKind identifies what a state change on a writable object asks the
// cloud to do.
type CommandKind int

const (
	CommandInvalid CommandKind = iota
	CommandReboot
	CommandRemoteStart
	CommandRemoteStop
	CommandSettingUpdate
)

func (k CommandKind) String() string {
	switch k {
	case CommandReboot:
		return "reboot"
	case CommandRemoteStart:
		return "remoteStart"
	case CommandRemoteStop:
		return "remoteStop"
	case CommandSettingUpdate:
		return "settingUpdate"
	}
	return "invalid"
}

// Command is the decoded form of a state object ID. IDs follow
// <namespace>.<chargePointID>.<...> with the final segments naming the
// operation, for example ns.CP1.Control.Reboot or ns.CP1.1.settings.maxCurrent.
type Command struct {
	Kind          CommandKind
	ChargePointID string
	ConnectorID   string
	SettingKey    string

	// Reason explains why decoding produced CommandInvalid.
	Reason string
}

// DecodeCommand parses a dotted state ID into a Command. It never returns an
// error; undecodable IDs come back as CommandInvalid with a Reason so callers
// can log and move on.
func DecodeCommand(id string) Command {
	parts := strings.Split(id, ".")
	if len(parts) < 4 {
		return Command{Kind: CommandInvalid, Reason: "too few segments"}
	}
	cpID := parts[1]
	if cpID == "" {
		return Command{Kind: CommandInvalid, Reason: "empty charge point ID"}
	}

	// connector settings look like <ns>.<cp>.<connector>.settings.<key...>
	for i := 2; i < len(parts)-1; i++ {
		if parts[i] != "settings" {
			continue
		}
		if i < 3 || parts[i-1] == "" {
			return Command{Kind: CommandInvalid, Reason: "settings path missing connector"}
		}
		return Command{
			Kind:          CommandSettingUpdate,
			ChargePointID: cpID,
			ConnectorID:   parts[i-1],
			SettingKey:    strings.Join(parts[i+1:], "."),
		}
	}

	last := parts[len(parts)-1]
	switch {
	case last == "Reboot":
		return Command{Kind: CommandReboot, ChargePointID: cpID}
	case strings.HasPrefix(last, "RemoteStart_"):
		connector := strings.TrimPrefix(last, "RemoteStart_")
		if connector == "" {
			return Command{Kind: CommandInvalid, Reason: "remote start missing connector"}
		}
		return Command{Kind: CommandRemoteStart, ChargePointID: cpID, ConnectorID: connector}
	case strings.HasPrefix(last, "RemoteStop_"):
		connector := strings.TrimPrefix(last, "RemoteStop_")
		if connector == "" {
			return Command{Kind: CommandInvalid, Reason: "remote stop missing connector"}
		}
		return Command{Kind: CommandRemoteStop, ChargePointID: cpID, ConnectorID: connector}
	}
	return Command{Kind: CommandInvalid, Reason: "unrecognized operation " + last}
}
