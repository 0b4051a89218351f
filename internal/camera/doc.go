// Package camera defines the camera collaborator contracts and the frame
// source guard that serializes access to the non-reentrant camera.
//
// FrameSource.TryAcquireFrame never blocks on a concurrent reader: when the
// single slot is taken it returns ErrBusy and the caller skips its unit of work.
package camera
