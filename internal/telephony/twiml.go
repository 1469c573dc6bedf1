package telephony

import (
	"github.com/twilio/twilio-go/twiml"
)

// BridgeTwiML parks the caller in the waiting bridge. The conference only
// starts when a candidate joins, so the caller hears hold music until then,
// and it ends when the caller leaves.
func BridgeTwiML(bridgeName, holdMusicURL string) (string, error) {
	conference := &twiml.VoiceConference{
		Name:                   bridgeName,
		StartConferenceOnEnter: "false",
		EndConferenceOnExit:    "true",
		Beep:                   "false",
	}
	if holdMusicURL != "" {
		conference.WaitUrl = holdMusicURL
	}
	dial := &twiml.VoiceDial{InnerElements: []twiml.Element{conference}}
	return twiml.Voice([]twiml.Element{dial})
}

// JoinTwiML connects an answered candidate to the caller's bridge
func JoinTwiML(bridgeName string) (string, error) {
	conference := &twiml.VoiceConference{
		Name:                   bridgeName,
		StartConferenceOnEnter: "true",
		EndConferenceOnExit:    "true",
		Beep:                   "false",
	}
	dial := &twiml.VoiceDial{InnerElements: []twiml.Element{conference}}
	return twiml.Voice([]twiml.Element{dial})
}

// ApologyTwiML tells the caller no transfer is possible and ends the leg
func ApologyTwiML(message string) (string, error) {
	return twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: message},
		&twiml.VoiceHangup{},
	})
}

// HangupTwiML ends a leg without joining it to anything
func HangupTwiML() (string, error) {
	return twiml.Voice([]twiml.Element{&twiml.VoiceHangup{}})
}
