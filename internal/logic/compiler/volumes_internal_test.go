package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"
)

func TestVolumeNames(t *testing.T) {
	t.Parallel()

	require.Equal(t, "host--slash-varslash-log", hostPathVolumeName(HostPathVolume{HostPath: "/var/log/"}))
	require.Equal(t,
		"host--slash-nailslash-srvslash-configsslash-reallyslash-l--ab48",
		hostPathVolumeName(HostPathVolume{
			HostPath: "/nail/srv/configs/really/long/path/that/goes/on/and/on/forever.d",
		}),
	)
	require.Equal(t, "pv--slash-varslash-libslash-data", persistentVolumeName(PersistentVolume{ContainerPath: "/var/lib/data"}))
	require.Equal(t, "secret--my--secret", secretVolumeName(SecretVolume{SecretName: "my_secret"}))
	require.Equal(t, "aws-ebs--vol-1234", ebsVolumeName(EBSVolume{VolumeID: "vol-1234"}))
	require.Equal(t, "aws-ebs--vol-12342", ebsVolumeName(EBSVolume{VolumeID: "vol-1234", Partition: ptr.To(int32(2))}))
}

func TestParseFileMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		give    string
		want    *int32
		wantErr error
	}{
		{name: "empty is unset", give: ""},
		{name: "octal string", give: "0644", want: ptr.To(int32(0o644))},
		{name: "octal executable", give: "0755", want: ptr.To(int32(0o755))},
		{name: "decimal number", give: "420", want: ptr.To(int32(420))},
		{name: "zero", give: "0", want: ptr.To(int32(0))},
		{name: "not a number", give: "rw", wantErr: ErrInvalidVolumeMode},
		{name: "invalid octal digit", give: "0698", wantErr: ErrInvalidVolumeMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseFileMode(tt.give)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
