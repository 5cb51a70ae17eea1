package daemon

import (
	"fmt"
	"strings"

	"github.com/arloliu/go-labrpc/device"
	"github.com/arloliu/go-labrpc/param"
	"github.com/arloliu/go-labrpc/proto"
)

// maxReadLines bounds the info of the read parameter.
const maxReadLines = 64

// deviceNode exposes a device as a parameter subtree:
//
//	query=CMD        send CMD and reply with one line
//	read-N=CMD       send CMD and reply with N lines
//	write=CMD        send CMD without reading a reply
//	open?            whether the transport is open
//	reopen           re-establish the transport
//	queue?           commands waiting in the device queue
//	error?           the last transport error
//	poll-I?          the cached reply of the I-th poll command
//	reply=A,B        canned reply of an empty device
func deviceNode(dev *device.Device, pl *poller) (*param.Node, error) {
	opts := []param.Option{
		param.WithChild("query", param.MustNew(param.WithSetter(
			func(value string, _ []any) (string, error) {
				return dev.Query(value)
			}))),
		param.WithChild("read", param.MustNew(
			param.WithInfo(param.IntInfo(1, maxReadLines)),
			param.WithSetter(func(value string, info []any) (string, error) {
				n, err := param.InfoAt[int](info, len(info)-1)
				if err != nil {
					return "", err
				}
				lines, err := dev.SendCommand(value, device.WithReturnLines(n))
				if err != nil {
					return "", err
				}

				return strings.Join(lines, proto.Separator), nil
			}))),
		param.WithChild("write", param.MustNew(param.WithSetter(
			func(value string, _ []any) (string, error) {
				return "", dev.SendWithoutResponse(value)
			}))),
		param.WithChild("open", param.MustNew(param.WithGetter(param.Value(dev.IsOpen)))),
		param.WithChild("reopen", param.MustNew(param.WithToggle(param.Toggle(dev.Reopen)))),
		param.WithChild("queue", param.MustNew(param.WithGetter(param.Value(dev.QueueSize)))),
		param.WithChild("error", param.MustNew(param.WithGetter(func([]any) (string, error) {
			if err := dev.LastError(); err != nil {
				return err.Error(), nil
			}

			return "", nil
		}))),
	}

	if pl != nil {
		opts = append(opts, param.WithChild("poll", param.MustNew(
			param.WithInfo(param.IntInfo(0, len(pl.commands)-1)),
			param.WithGetter(param.IndexedValue(func(info []any) (string, error) {
				i, err := param.InfoAt[int](info, len(info)-1)
				if err != nil {
					return "", err
				}

				return pl.value(i)
			})),
		)))
	}

	if dev.Config().Empty() {
		opts = append(opts, param.WithChild("reply", param.MustNew(param.WithSetter(
			param.SetString(func(value string) error {
				dev.SetEmptyReturn(strings.Split(value, ",")...)
				return nil
			})))))
	}

	node, err := param.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", dev.Name(), err)
	}

	return node, nil
}

// buildTree assembles the root node: one child per device plus daemon status parameters.
func (d *Daemon) buildTree() (*param.Node, error) {
	root, err := param.New(
		param.WithChild("devices", param.MustNew(param.WithGetter(func([]any) (string, error) {
			return strings.Join(d.deviceNames(), proto.Separator), nil
		}))),
		param.WithChild("server", param.MustNew(
			param.WithChild("clients", param.MustNew(param.WithGetter(param.Value(func() int {
				return d.server.ChannelCount()
			})))),
			param.WithChild("mode", param.MustNew(param.WithGetter(param.Value(func() string {
				return d.server.Config().Mode().String()
			})))),
		)),
	)
	if err != nil {
		return nil, err
	}

	for _, dev := range d.devices {
		if _, taken := root.Child(dev.Name()); taken {
			return nil, fmt.Errorf("%w: %s", ErrReservedName, dev.Name())
		}

		node, err := deviceNode(dev, d.pollers[dev.Name()])
		if err != nil {
			return nil, err
		}
		if err := root.AddChild(dev.Name(), node); err != nil {
			return nil, fmt.Errorf("device %s: %w", dev.Name(), err)
		}
	}

	return root, nil
}
