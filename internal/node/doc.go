// Package node brings a sensor node up and ties its components together.
//
// Boot order:
//  1. load the config store (boot counter committed first)
//  2. wait the stored start delay
//  3. open the LED and button drivers; a button failure aborts bring-up
//  4. connect the mesh and the telemetry broker
//  5. run the input dispatcher, mesh bridge and statistics loop until the
//     context ends or a restart is requested
//
// Restarts and factory resets are carried out by Actuator. Both wait for a
// running OTA session to finish, then for the grace delay. A factory reset is
// always complete before the restart is issued.
package node
