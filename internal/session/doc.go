// Package session runs listening and training sessions. A listening session
// owns its window buffer and detector, uploads every emitted window for
// inference and raises alerts; a training session records one clip at a time
// for labeling. The Manager tracks live sessions and stops them on shutdown.
package session
