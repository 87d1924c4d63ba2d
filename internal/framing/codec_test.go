package framing

import (
	"testing"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func TestHeadedPrependsMagicAndLength(t *testing.T) {
	framed, err := Headed([]byte{0x01, 0x02, 0x01, 0x01})
	require.NoError(t, err)
	require.Equal(t, []byte{Start1, Start2, 0x00, 0x04, 0x01, 0x02, 0x01, 0x01}, framed)
}

func TestEncodeToRadioThenDecode(t *testing.T) {
	toRadio := &meshtastic.ToRadio{
		PayloadVariant: &meshtastic.ToRadio_WantConfigId{WantConfigId: 123},
	}
	frame, err := EncodeToRadio(toRadio)
	require.NoError(t, err)

	// The decoder only understands FromRadio, but the framing itself (magic +
	// length prefix) is identical in both directions, so round-trip the raw
	// payload back through proto to confirm the header was built correctly.
	require.Equal(t, Start1, frame[0])
	require.Equal(t, Start2, frame[1])
	var decoded meshtastic.ToRadio
	require.NoError(t, proto.Unmarshal(frame[headerLen:], &decoded))
	require.True(t, proto.Equal(toRadio, &decoded))
}

func TestDecoderDecodesFromRadioFrame(t *testing.T) {
	want := &meshtastic.FromRadio{
		Id: 42,
		PayloadVariant: &meshtastic.FromRadio_Config{
			Config: &meshtastic.Config{
				PayloadVariant: &meshtastic.Config_Device{
					Device: &meshtastic.Config_DeviceConfig{Role: meshtastic.Config_DeviceConfig_ROUTER},
				},
			},
		},
	}
	payload, err := proto.Marshal(want)
	require.NoError(t, err)
	frame, err := Headed(payload)
	require.NoError(t, err)

	var d Decoder
	items, err := d.Feed(frame)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.True(t, items[0].IsStructured())
	require.True(t, proto.Equal(want, items[0].FromRadio))
}

func TestDecoderSplitAcrossFeeds(t *testing.T) {
	want := &meshtastic.FromRadio{
		Id:             7,
		PayloadVariant: &meshtastic.FromRadio_MyInfo{MyInfo: &meshtastic.MyNodeInfo{MyNodeNum: 99}},
	}
	payload, err := proto.Marshal(want)
	require.NoError(t, err)
	frame, err := Headed(payload)
	require.NoError(t, err)

	var d Decoder
	items, err := d.Feed(frame[:2])
	require.NoError(t, err)
	require.Empty(t, items)

	items, err = d.Feed(frame[2:])
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.True(t, proto.Equal(want, items[0].FromRadio))
}

func TestDecoderSurfacesUnstructuredPreamble(t *testing.T) {
	want := &meshtastic.FromRadio{
		Id:             1,
		PayloadVariant: &meshtastic.FromRadio_MyInfo{MyInfo: &meshtastic.MyNodeInfo{}},
	}
	payload, err := proto.Marshal(want)
	require.NoError(t, err)
	frame, err := Headed(payload)
	require.NoError(t, err)

	boot := []byte("INFO  boot log line\n")
	var d Decoder
	items, err := d.Feed(append(boot, frame...))
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.False(t, items[0].IsStructured())
	require.Equal(t, boot, items[0].Unstructured)
	require.True(t, items[1].IsStructured())
}

func TestDecoderHoldsBackTrailingMagicByte(t *testing.T) {
	want := &meshtastic.FromRadio{
		Id:             3,
		PayloadVariant: &meshtastic.FromRadio_MyInfo{MyInfo: &meshtastic.MyNodeInfo{MyNodeNum: 1}},
	}
	payload, err := proto.Marshal(want)
	require.NoError(t, err)
	frame, err := Headed(payload)
	require.NoError(t, err)

	var d Decoder
	items, err := d.Feed([]byte("xx"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, []byte("xx"), items[0].Unstructured)

	items, err = d.Feed(frame[:1])
	require.NoError(t, err)
	require.Empty(t, items, "lone trailing 0x94 must be held back as potential frame start")

	items, err = d.Feed(frame[1:])
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.True(t, items[0].IsStructured())
	require.True(t, proto.Equal(want, items[0].FromRadio))
}

func TestDecoderRejectsOversizedLength(t *testing.T) {
	frame := []byte{Start1, Start2, 0x02, 0x00}
	var d Decoder
	_, err := d.Feed(frame)
	require.Error(t, err)
}
