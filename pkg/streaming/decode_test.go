package streaming

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_TelemetryFrame(t *testing.T) {
	raw := `{"type":"telemetry_frame","timestamp":"2025-04-04T18:10:23.456000+00:00",
		"vehicles":{"GR86-78":{"speed":"142.5","Laptrigger_lapdist_dls":100.0,"lap":3,"junk":"n/a","obj":{"a":1}}},
		"weather":{"air_temp":24.1,"track_temp":"31.0","humidity":null}}`

	msg, err := Decode([]byte(raw))
	require.NoError(t, err)

	frame, ok := msg.(TelemetryFrame)
	require.True(t, ok)
	assert.Equal(t, TypeTelemetryFrame, frame.MessageType())
	assert.Equal(t, "2025-04-04T18:10:23.456000+00:00", frame.Timestamp)

	fields := frame.Vehicles["GR86-78"]
	require.NotNil(t, fields)
	assert.Equal(t, Num(142.5), fields["speed"])
	assert.Equal(t, Num(100), fields["Laptrigger_lapdist_dls"])
	assert.Equal(t, Num(3), fields["lap"])
	assert.False(t, fields["junk"].Valid)
	assert.False(t, fields["obj"].Valid)

	require.NotNil(t, frame.Weather)
	assert.Equal(t, Num(24.1), frame.Weather.AirTemp)
	assert.Equal(t, Num(31), frame.Weather.TrackTemp)
	assert.False(t, frame.Weather.Humidity.Valid)
}

func TestDecode_LapEventWithNulls(t *testing.T) {
	raw := `{"type":"lap_event","vehicle_id":"13","lap":4,"lap_time":null,
		"sector_times":[26.1,null,"40.2"],"top_speed":null,"flag":"GF","pit":false,"timestamp":"18:12:33.456"}`

	msg, err := Decode([]byte(raw))
	require.NoError(t, err)

	ev := msg.(LapEvent)
	assert.Equal(t, "13", ev.VehicleID)
	assert.Equal(t, 4, ev.Lap)
	assert.Equal(t, "", ev.LapTime)
	require.Len(t, ev.SectorTimes, 3)
	assert.Equal(t, Num(26.1), ev.SectorTimes[0])
	assert.False(t, ev.SectorTimes[1].Valid)
	assert.Equal(t, Num(40.2), ev.SectorTimes[2])
	assert.False(t, ev.TopSpeed.Valid)
}

func TestDecode_LeaderboardEntry(t *testing.T) {
	raw := `{"type":"leaderboard_entry","class_type":"Am","position":2,"pic":1,"vehicle_id":"46",
		"vehicle":"Toyota GR86","laps":12,"elapsed":"22:01.1","gap_first":"+1.234","gap_previous":"+1.234",
		"best_lap_num":7,"best_lap_time":"1:38.552","best_lap_kph":135.7}`

	msg, err := Decode([]byte(raw))
	require.NoError(t, err)

	e := msg.(LeaderboardEntry)
	assert.Equal(t, "46", e.VehicleID)
	assert.Equal(t, 2, e.Position)
	assert.Equal(t, 1, e.PIC)
	assert.Equal(t, "Am", e.ClassType)
	assert.Equal(t, Num(135.7), e.BestLapKph)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	require.Error(t, err)

	_, err = Decode([]byte(`{"type":"mystery"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Decode([]byte(`{"type":"lap_event","lap":"three"}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownType)
}

func TestNewDecoder_RestrictsTypes(t *testing.T) {
	decode := NewDecoder(TypeConnected, TypeLapEvent)

	msg, err := decode([]byte(`{"type":"connected","has_data":true}`))
	require.NoError(t, err)
	assert.Equal(t, Connected{Type: TypeConnected, HasData: true}, msg)

	_, err = decode([]byte(`{"type":"telemetry_frame","timestamp":"x","vehicles":{}}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestEncode_Control(t *testing.T) {
	v := 2.0
	data, err := Encode(Control{Cmd: "speed", Value: &v})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"control","cmd":"speed","value":2}`, string(data))

	data, err = Encode(&Control{Cmd: "seek", Timestamp: "2025-04-04T18:10:23Z"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"control","cmd":"seek","timestamp":"2025-04-04T18:10:23Z"}`, string(data))

	data, err = Encode(Control{Cmd: "play"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"control","cmd":"play"}`, string(data))
}

func TestNumber_MarshalInvalidAsNull(t *testing.T) {
	data, err := json.Marshal(struct {
		A Number `json:"a"`
		B Number `json:"b"`
	}{A: Num(1.5)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1.5,"b":null}`, string(data))
	assert.Equal(t, 7.0, Number{}.Or(7))
}
