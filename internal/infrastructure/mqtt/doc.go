// Package mqtt provides the MQTT client that carries the gridctl bus.
//
// Every process (device bots, the macro robot, the supervisor) connects to
// one broker. Bus lines travel as JSON envelopes on <prefix>/bus/<channel>;
// device state snapshots are retained on <prefix>/state/<device>; each
// process announces itself on <prefix>/status/<client_id>, with a Last Will
// so a crashed bot shows up as offline.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().Channel("system"), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(payload)
//	    })
package mqtt
