// Package config provides runtime settings for the sensornode binary.
//
// Settings live in a YAML file named sensornode.yaml. The file is looked up in
// the working directory and in the OS-specific configuration directory, and
// every key can be overridden from the environment with the SENSORNODE_ prefix
// (dots become underscores, so ota.chunk_size is SENSORNODE_OTA_CHUNK_SIZE).
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/sensornode/sensornode.yaml or $HOME/.config/sensornode/sensornode.yaml
//   - macOS: $HOME/.config/sensornode/sensornode.yaml
//   - Windows: %LOCALAPPDATA%\sensornode\sensornode.yaml
//
// These settings describe how the process runs (GPIO lines, broker address,
// partition directory). The node's durable record (name, keys, mesh
// parameters) is not kept here; it lives in the non-volatile store managed by
// package nodeconfig.
//
// # Usage Example
//
//	settings, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(settings.MQTT.Broker)
//
//	// Write a commented default file
//	path, err := config.WriteDefault("")
package config
