// Package poller refreshes the Leshan device directory and a declared set
// of object instances on a fixed interval.
//
// Each cycle produces an immutable Snapshot. A cycle is all-or-nothing:
// if the directory refresh or any read fails, the partial results are
// discarded, the previous Snapshot stays current and the failure is
// reported once. The next attempt is the next scheduled tick.
//
// # Usage
//
//	coord := poller.New(client, poller.Options{
//	    Interval: 30 * time.Second,
//	    Logger:   log,
//	    OnUpdate: func(s *poller.Snapshot) { publish(s) },
//	})
//	coord.AddToPollList(device, leshan.ObjectInstance{ObjectID: 3303})
//	go coord.Run(ctx)
package poller
