// Package mqtt connects the agent to an MQTT broker. Messages on the
// configured topic start turns, reply tool output is published to the
// reply topic, and a summary of every turn is announced on
// <reply_topic>/turns.
//
// The connection uses Eclipse Paho v2's [autopaho] package for
// automatic reconnection. The topic subscription is re-established on
// every (re-)connect.
package mqtt
