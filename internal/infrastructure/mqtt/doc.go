// Package mqtt publishes sensor snapshots to an MQTT broker.
//
// After each ingestion, the latest value of every touched sensor is
// published as a retained JSON message on
//
//	{prefix}/device/{deviceId}/sensor/{type}/state
//
// so dashboards and home-automation bridges see the current state as soon
// as they subscribe. The server announces itself on {prefix}/server/status
// with a retained online message and a Last Will for crashes.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	ingestor.SetPublisher(client)
//
// The paho client reconnects automatically with exponential backoff.
// Publishing while disconnected returns ErrNotConnected.
package mqtt
