package featureflag

type Flag string

const (
	FlagDisableSessionState              Flag = "DISABLE_SESSION_STATE"
	FlagDisableParticipantJoinBroadcast  Flag = "DISABLE_PARTICIPANT_JOIN_BROADCAST"
	FlagDisableParticipantLeaveBroadcast Flag = "DISABLE_PARTICIPANT_LEAVE_BROADCAST"
	FlagDisableEntityAddBroadcast        Flag = "DISABLE_ENTITY_ADD_BROADCAST"
	FlagDisableEntityDeleteBroadcast     Flag = "DISABLE_ENTITY_DELETE_BROADCAST"
	FlagDisableEntityUpdatePoseBroadcast Flag = "DISABLE_ENTITY_UPDATE_POSE_BROADCAST"
	FlagDisableCustomMessageBroadcast    Flag = "DISABLE_CUSTOM_MESSAGE_BROADCAST"

	// Relays every pose update to the whole session regardless of the
	// configured interest radius.
	FlagDisableInterestFiltering Flag = "DISABLE_INTEREST_FILTERING"
)

// Known returns every flag the server understands.
func Known() []Flag {
	return []Flag{
		FlagDisableSessionState,
		FlagDisableParticipantJoinBroadcast,
		FlagDisableParticipantLeaveBroadcast,
		FlagDisableEntityAddBroadcast,
		FlagDisableEntityDeleteBroadcast,
		FlagDisableEntityUpdatePoseBroadcast,
		FlagDisableCustomMessageBroadcast,
		FlagDisableInterestFiltering,
	}
}
