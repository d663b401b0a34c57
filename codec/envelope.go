package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Nex firmware speaks protobuf inside a 0x02-prefixed envelope. Only the
// messages the link layer needs are described here: the ping and battery
// request sent by the host, and the battery status reported back.
//
//	PhoneToGlasses { string msg_id = 1; DisconnectRequest disconnect = 10;
//	                 BatteryStateRequest battery_state = 11; PingRequest ping = 16; }
//	GlassesToPhone { BatteryStatus battery_status = 10; }
//	BatteryStatus  { uint32 level = 1; bool charging = 2; }

// Payload field names inside PhoneToGlasses
const (
	NexDisconnect   protoreflect.Name = "disconnect"
	NexBatteryState protoreflect.Name = "battery_state"
	NexPing         protoreflect.Name = "ping"
)

type nexTypes struct {
	phoneToGlasses protoreflect.MessageDescriptor
	glassesToPhone protoreflect.MessageDescriptor
}

var nexSchema = mustNexSchema()

func nexField(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type, typeName string) *descriptorpb.FieldDescriptorProto {
	f := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
	if typeName != "" {
		f.TypeName = proto.String(typeName)
	}
	return f
}

func mustNexSchema() nexTypes {
	const (
		msg = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
		str = descriptorpb.FieldDescriptorProto_TYPE_STRING
		u32 = descriptorpb.FieldDescriptorProto_TYPE_UINT32
		bln = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	)
	fd := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("glasslink/nex_ble.proto"),
		Package: proto.String("mentraos.ble"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: proto.String("DisconnectRequest")},
			{Name: proto.String("BatteryStateRequest")},
			{Name: proto.String("PingRequest")},
			{
				Name: proto.String("BatteryStatus"),
				Field: []*descriptorpb.FieldDescriptorProto{
					nexField("level", 1, u32, ""),
					nexField("charging", 2, bln, ""),
				},
			},
			{
				Name: proto.String("PhoneToGlasses"),
				Field: []*descriptorpb.FieldDescriptorProto{
					nexField("msg_id", 1, str, ""),
					nexField(string(NexDisconnect), 10, msg, ".mentraos.ble.DisconnectRequest"),
					nexField(string(NexBatteryState), 11, msg, ".mentraos.ble.BatteryStateRequest"),
					nexField(string(NexPing), 16, msg, ".mentraos.ble.PingRequest"),
				},
			},
			{
				Name: proto.String("GlassesToPhone"),
				Field: []*descriptorpb.FieldDescriptorProto{
					nexField("battery_status", 10, msg, ".mentraos.ble.BatteryStatus"),
				},
			},
		},
	}
	file, err := protodesc.NewFile(fd, new(protoregistry.Files))
	if err != nil {
		panic(fmt.Sprintf("codec: invalid nex schema: %v", err))
	}
	messages := file.Messages()
	return nexTypes{
		phoneToGlasses: messages.ByName("PhoneToGlasses"),
		glassesToPhone: messages.ByName("GlassesToPhone"),
	}
}

// NexRequest builds an envelope carrying one empty PhoneToGlasses request
func NexRequest(payload protoreflect.Name) ([]byte, error) {
	msg := dynamicpb.NewMessage(nexSchema.phoneToGlasses)
	fd := msg.Descriptor().Fields().ByName(payload)
	if fd == nil || fd.Message() == nil {
		return nil, fmt.Errorf("codec: unknown nex request %q", payload)
	}
	msg.Set(fd, protoreflect.ValueOfMessage(dynamicpb.NewMessage(fd.Message())))
	return envelope(msg)
}

// NexBatteryStatus builds the envelope the glasses send to report battery
func NexBatteryStatus(level int, charging bool) ([]byte, error) {
	msg := dynamicpb.NewMessage(nexSchema.glassesToPhone)
	fd := msg.Descriptor().Fields().ByName("battery_status")
	status := dynamicpb.NewMessage(fd.Message())
	status.Set(status.Descriptor().Fields().ByName("level"), protoreflect.ValueOfUint32(uint32(clamp(level, 0, 100))))
	status.Set(status.Descriptor().Fields().ByName("charging"), protoreflect.ValueOfBool(charging))
	msg.Set(fd, protoreflect.ValueOfMessage(status))
	return envelope(msg)
}

func envelope(msg proto.Message) ([]byte, error) {
	body, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal nex envelope: %w", err)
	}
	return append([]byte{OpProtobuf}, body...), nil
}

// DecodeNexRequest parses a host-to-glasses envelope and names the populated
// request field. Used by the simulated peer.
func DecodeNexRequest(frame []byte) (proto.Message, protoreflect.Name, error) {
	if len(frame) == 0 || frame[0] != OpProtobuf {
		return nil, "", fmt.Errorf("%w: not a protobuf envelope", ErrMalformedChunk)
	}
	msg := dynamicpb.NewMessage(nexSchema.phoneToGlasses)
	if err := proto.Unmarshal(frame[1:], msg); err != nil {
		return nil, "", fmt.Errorf("codec: unmarshal nex request: %w", err)
	}
	var populated protoreflect.Name
	msg.Range(func(fd protoreflect.FieldDescriptor, _ protoreflect.Value) bool {
		if fd.Message() != nil {
			populated = fd.Name()
			return false
		}
		return true
	})
	return msg, populated, nil
}

func decodeNexReport(body []byte) (proto.Message, *BatteryLevel, error) {
	msg := dynamicpb.NewMessage(nexSchema.glassesToPhone)
	if err := proto.Unmarshal(body, msg); err != nil {
		return nil, nil, err
	}
	fd := msg.Descriptor().Fields().ByName("battery_status")
	if !msg.Has(fd) {
		return msg, nil, nil
	}
	status := msg.Get(fd).Message()
	fields := status.Descriptor().Fields()
	charging := status.Get(fields.ByName("charging")).Bool()
	return msg, &BatteryLevel{
		Percent:  int(status.Get(fields.ByName("level")).Uint()),
		Charging: &charging,
		Source:   OpProtobuf,
	}, nil
}
