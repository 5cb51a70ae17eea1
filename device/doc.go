// Package device wraps an instrument transport with the retry, reconnect and
// serialization policy every command goes through.
//
// A Transport is the raw link to an instrument (serial line, TCP socket, MQTT
// bridge, function table). A Device owns one Transport and runs each command as
//
//	write -> optional settle wait -> read -> validate
//
// retrying up to MaxAttempts times and reopening a dropped link up to
// ReconnectTries times. Only after the whole budget is spent does the caller
// see an error, either *OpenError or *CommunicationError.
//
// By default every command of a Device runs on the consumer goroutine of a
// cmdqueue.Ring, so concurrent callers never touch the Transport at the same time.
//
// Example:
//
//	dev, err := device.New(ctx, socket.New("10.0.0.7", 5025),
//	    device.WithName("Wavemeter"),
//	    device.WithMaxAttempts(5),
//	    device.WithAttemptDelay(200*time.Millisecond),
//	)
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//
//	line, err := dev.Query("MEAS:WAV?", device.WithValidator(device.Finite(0)))
package device
