// Package influxdb writes control plane metrics to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Metrics implements
// the lifecycle Recorder and the control Sink, producing three measurements:
//
//	device_lifecycle  one point per create/remove/reap (tags: node, op, result)
//	control_dispatch  one point per control command (tags: node, command, errno)
//	device_stats      periodic gauge of devices, minors and reapers
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	metrics := influxdb.NewMetrics(client, cfg.Node.ID)
//	manager.SetRecorder(metrics)
//	dispatcher.AddSink(metrics)
package influxdb
