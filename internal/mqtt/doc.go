// Package mqtt forwards pipeline events from the in-process bus to an
// MQTT broker and publishes a periodic status document.
//
// The forwarder uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes a retained birth message ("online") to the
// availability topic; a will message flips the topic to "offline" on
// unexpected disconnects.
//
// Topics, under the configured prefix:
//
//	<prefix>/availability           online | offline (retained)
//	<prefix>/status                 JSON status document (retained)
//	<prefix>/events/<source>/<kind> one JSON event per message
package mqtt
