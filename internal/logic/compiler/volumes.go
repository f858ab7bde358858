package compiler

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
)

const volumeModeReadOnly = "RO"

// ParseFileMode parses an octal mode such as "0644". A plain decimal number
// is accepted as is. An empty string yields nil.
func ParseFileMode(mode string) (*int32, error) {
	if mode == "" {
		return nil, nil //nolint:nilnil // unset mode
	}

	base := 10
	if len(mode) > 1 && mode[0] == '0' {
		base = 8
	}

	n, err := strconv.ParseInt(mode, base, 32)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVolumeMode, mode)
	}

	return ptr.To(int32(n)), nil
}

func hostPathVolumeName(v HostPathVolume) string {
	return volumeName("host", v.HostPath, nameLimitHostPath)
}

func persistentVolumeName(v PersistentVolume) string {
	return volumeName("pv", v.ContainerPath, nameLimitDefault)
}

func ebsVolumeName(v EBSVolume) string {
	name := "aws-ebs--" + v.VolumeID
	if v.Partition != nil {
		name += strconv.Itoa(int(*v.Partition))
	}

	return Sanitize(name)
}

func secretVolumeName(v SecretVolume) string {
	return volumeName("secret", v.SecretName, nameLimitDefault)
}

type podVolumes struct {
	volumes []corev1.Volume
	mounts  []corev1.VolumeMount
	claims  []corev1.PersistentVolumeClaim
}

func (p *podVolumes) addVolume(v corev1.Volume) {
	if slices.ContainsFunc(p.volumes, func(existing corev1.Volume) bool { return existing.Name == v.Name }) {
		return
	}

	p.volumes = append(p.volumes, v)
}

func (p *podVolumes) addMount(m corev1.VolumeMount) {
	if slices.ContainsFunc(p.mounts, func(existing corev1.VolumeMount) bool {
		return existing.Name == m.Name && existing.MountPath == m.MountPath
	}) {
		return
	}

	p.mounts = append(p.mounts, m)
}

// buildVolumes turns the system and instance volumes into pod volumes,
// primary container mounts and claim templates.
func (c *Compiler) buildVolumes(ctx context.Context, cfg *InstanceConfig) (*podVolumes, error) {
	out := &podVolumes{}

	all := make([]Volume, 0, len(c.system.Volumes))
	for _, v := range c.system.Volumes {
		all = append(all, v)
	}

	all = append(all, cfg.Volumes()...)

	for _, vol := range all {
		switch v := vol.(type) {
		case HostPathVolume:
			name := hostPathVolumeName(v)
			out.addVolume(corev1.Volume{
				Name: name,
				VolumeSource: corev1.VolumeSource{
					HostPath: &corev1.HostPathVolumeSource{Path: v.HostPath},
				},
			})
			out.addMount(corev1.VolumeMount{
				Name:      name,
				MountPath: v.ContainerPath,
				ReadOnly:  v.Mode == volumeModeReadOnly,
			})
		case EBSVolume:
			name := ebsVolumeName(v)
			out.addVolume(corev1.Volume{
				Name: name,
				VolumeSource: corev1.VolumeSource{
					AWSElasticBlockStore: &corev1.AWSElasticBlockStoreVolumeSource{
						VolumeID:  v.VolumeID,
						FSType:    v.FSType,
						Partition: ptr.Deref(v.Partition, 0),
						ReadOnly:  false,
					},
				},
			})
			out.addMount(corev1.VolumeMount{
				Name:      name,
				MountPath: v.ContainerPath,
				ReadOnly:  v.Mode == volumeModeReadOnly,
			})
		case PersistentVolume:
			name := persistentVolumeName(v)
			out.claims = append(out.claims, c.claimTemplate(ctx, cfg, name, v))
			out.addMount(corev1.VolumeMount{
				Name:      name,
				MountPath: v.ContainerPath,
				ReadOnly:  v.Mode == volumeModeReadOnly,
			})
		case SecretVolume:
			source, err := secretVolumeSource(cfg.Service, v)
			if err != nil {
				return nil, err
			}

			name := secretVolumeName(v)
			out.addVolume(corev1.Volume{
				Name:         name,
				VolumeSource: corev1.VolumeSource{Secret: source},
			})
			out.addMount(corev1.VolumeMount{
				Name:      name,
				MountPath: v.ContainerPath,
				ReadOnly:  true,
			})
		default:
			return nil, fmt.Errorf("%w: unsupported volume %T", ErrInvalidConfigShape, vol)
		}
	}

	return out, nil
}

func secretVolumeSource(service string, v SecretVolume) (*corev1.SecretVolumeSource, error) {
	defaultMode, err := ParseFileMode(v.DefaultMode)
	if err != nil {
		return nil, fmt.Errorf("secret volume %s default_mode: %w", v.SecretName, err)
	}

	source := &corev1.SecretVolumeSource{
		SecretName:  SecretResourceName(service, v.SecretName),
		DefaultMode: defaultMode,
	}

	for _, item := range v.Items {
		mode, err := ParseFileMode(item.Mode)
		if err != nil {
			return nil, fmt.Errorf("secret volume %s item %s: %w", v.SecretName, item.Key, err)
		}

		source.Items = append(source.Items, corev1.KeyToPath{
			Key:  item.Key,
			Path: item.Path,
			Mode: mode,
		})
	}

	return source, nil
}

func (c *Compiler) claimTemplate(
	ctx context.Context,
	cfg *InstanceConfig,
	name string,
	v PersistentVolume,
) corev1.PersistentVolumeClaim {
	storageClass := DefaultStorageClass

	if v.StorageClassName != "" {
		if slices.Contains(c.system.SupportedStorageClasses, v.StorageClassName) {
			storageClass = v.StorageClassName
		} else {
			c.logger.WarnContext(ctx, "unsupported storage class, using default",
				"service", cfg.Service,
				"instance", cfg.Instance,
				"storage_class", v.StorageClassName,
				"default", DefaultStorageClass,
			)
		}
	}

	return corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			StorageClassName: ptr.To(storageClass),
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: resource.MustParse(strconv.Itoa(v.Size) + "Gi"),
				},
			},
		},
	}
}
