// Package mqtt is the bridge's broker session: a paho client that
// reconnects on its own, restores subscriptions after a reconnect and
// announces the bridge online/offline through a retained status topic and
// a Last Will.
//
// # Topic Layout
//
// Every LwM2M resource the bridge knows about maps to a pair of topics:
//
//	lwm2m/state/{endpoint}/{object}/{instance}/{resource}    (retained, bridge -> bus)
//	lwm2m/command/{endpoint}/{object}/{instance}/{resource}  (bus -> bridge)
//
// Device registrations are announced on lwm2m/discovery/{endpoint}, bridge
// health on lwm2m/health/{bridge_id}, and online/offline status on
// lwm2m/system/status.
//
// Enable broker.tls for anything beyond a broker on localhost.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        _, addr, err := mqtt.ParseResourceTopic(topic)
//	        ...
//	    })
package mqtt
