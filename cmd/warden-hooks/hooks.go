// Command warden-hooks builds the LD_PRELOAD shared object that backs
// --netmon=preload (spec.md §4.A, §6): symbol-interposed connect/send/
// sendto/recv/recvfrom/close/open/openat wrappers that record NetEvent
// lines to NETMON_LOG and substitute OVERLAY_PATH for OVERLAY_TARGET opens,
// so an unmodified agent CLI picks up the injected MCP config transparently.
//
// Everything performance- and signal-safety-sensitive lives in the cgo
// preamble in C: lazy dlsym(RTLD_NEXT, ...) resolution (no allocation in
// the constructor), a thread-local re-entry guard so the hooks' own libc
// calls don't recurse into themselves, and a single write(2) per logged
// event so concurrent callers interleave at line boundaries instead of
// corrupting each other's output. Build with:
//
//	go build -buildmode=c-shared -o warden-hooks.so ./cmd/warden-hooks
package main

/*
#cgo LDFLAGS: -ldl
#define _GNU_SOURCE
#include <dlfcn.h>
#include <stdio.h>
#include <stdlib.h>
#include <string.h>
#include <time.h>
#include <unistd.h>
#include <sys/socket.h>
#include <sys/types.h>
#include <sys/uio.h>
#include <fcntl.h>
#include <stdarg.h>
#include <pthread.h>
#include <arpa/inet.h>
#include <netinet/in.h>

typedef int (*connect_fn)(int, const struct sockaddr *, socklen_t);
typedef ssize_t (*send_fn)(int, const void *, size_t, int);
typedef ssize_t (*sendto_fn)(int, const void *, size_t, int, const struct sockaddr *, socklen_t);
typedef ssize_t (*recv_fn)(int, void *, size_t, int);
typedef ssize_t (*recvfrom_fn)(int, void *, size_t, int, struct sockaddr *, socklen_t *);
typedef int (*close_fn)(int);
typedef int (*open_fn)(const char *, int, ...);
typedef int (*openat_fn)(int, const char *, int, ...);

static connect_fn  real_connect;
static send_fn     real_send;
static sendto_fn   real_sendto;
static recv_fn      real_recv;
static recvfrom_fn real_recvfrom;
static close_fn    real_close;
static open_fn     real_open;
static openat_fn   real_openat;

static pthread_once_t resolve_once = PTHREAD_ONCE_INIT;

static void resolve_all(void) {
	real_connect  = (connect_fn)dlsym(RTLD_NEXT, "connect");
	real_send     = (send_fn)dlsym(RTLD_NEXT, "send");
	real_sendto   = (sendto_fn)dlsym(RTLD_NEXT, "sendto");
	real_recv     = (recv_fn)dlsym(RTLD_NEXT, "recv");
	real_recvfrom = (recvfrom_fn)dlsym(RTLD_NEXT, "recvfrom");
	real_close    = (close_fn)dlsym(RTLD_NEXT, "close");
	real_open     = (open_fn)dlsym(RTLD_NEXT, "open");
	real_openat   = (openat_fn)dlsym(RTLD_NEXT, "openat");
}

// warden_in_hook guards against one hooked call's own libc usage (e.g.
// vfprintf inside the logger) recursing back into these wrappers.
static __thread int warden_in_hook;

static int netmon_fd = -1;
static int overlay_resolved;
static const char *overlay_target;
static const char *overlay_path;

static void resolve_env(void) {
	if (overlay_resolved) {
		return;
	}
	overlay_resolved = 1;
	overlay_target = getenv("OVERLAY_TARGET");
	overlay_path = getenv("OVERLAY_PATH");

	const char *log_path = getenv("NETMON_LOG");
	if (log_path != NULL && log_path[0] != '\0') {
		netmon_fd = open(log_path, O_WRONLY | O_CREAT | O_APPEND, 0644);
	}
}

static long long now_millis(void) {
	struct timespec ts;
	clock_gettime(CLOCK_REALTIME, &ts);
	return (long long)ts.tv_sec * 1000 + ts.tv_nsec / 1000000;
}

// emit appends one NetEvent JSON line (pkg/netevent's wire format) in a
// single write(2) call so concurrent hooked threads/processes interleave
// cleanly at line boundaries.
static void emit(const char *event, int fd, const char *addr, long long bytes) {
	if (netmon_fd < 0 || warden_in_hook) {
		return;
	}
	char buf[512];
	int n;
	if (addr != NULL && bytes >= 0) {
		n = snprintf(buf, sizeof(buf), "{\"ts\":%lld,\"event\":\"%s\",\"fd\":%d,\"addr\":\"%s\",\"bytes\":%lld}\n",
			now_millis(), event, fd, addr, bytes);
	} else if (addr != NULL) {
		n = snprintf(buf, sizeof(buf), "{\"ts\":%lld,\"event\":\"%s\",\"fd\":%d,\"addr\":\"%s\"}\n",
			now_millis(), event, fd, addr);
	} else if (bytes >= 0) {
		n = snprintf(buf, sizeof(buf), "{\"ts\":%lld,\"event\":\"%s\",\"fd\":%d,\"bytes\":%lld}\n",
			now_millis(), event, fd, bytes);
	} else {
		n = snprintf(buf, sizeof(buf), "{\"ts\":%lld,\"event\":\"%s\",\"fd\":%d}\n",
			now_millis(), event, fd);
	}
	if (n > 0) {
		warden_in_hook = 1;
		ssize_t w = write(netmon_fd, buf, (size_t)n);
		(void)w;
		warden_in_hook = 0;
	}
}

static void format_addr(const struct sockaddr *addr, socklen_t len, char *out, size_t outlen) {
	out[0] = '\0';
	if (addr == NULL) {
		return;
	}
	if (addr->sa_family == AF_INET && len >= sizeof(struct sockaddr_in)) {
		struct sockaddr_in *sin = (struct sockaddr_in *)addr;
		char ip[INET6_ADDRSTRLEN];
		if (inet_ntop(AF_INET, &sin->sin_addr, ip, sizeof(ip)) != NULL) {
			snprintf(out, outlen, "%s:%d", ip, ntohs(sin->sin_port));
		}
	} else if (addr->sa_family == AF_INET6 && len >= sizeof(struct sockaddr_in6)) {
		struct sockaddr_in6 *sin6 = (struct sockaddr_in6 *)addr;
		char ip[INET6_ADDRSTRLEN];
		if (inet_ntop(AF_INET6, &sin6->sin6_addr, ip, sizeof(ip)) != NULL) {
			snprintf(out, outlen, "[%s]:%d", ip, ntohs(sin6->sin6_port));
		}
	}
}

int connect(int sockfd, const struct sockaddr *addr, socklen_t addrlen) {
	pthread_once(&resolve_once, resolve_all);
	resolve_env();
	int rc = real_connect(sockfd, addr, addrlen);
	if (!warden_in_hook) {
		char astr[128];
		format_addr(addr, addrlen, astr, sizeof(astr));
		emit("connect", sockfd, astr[0] ? astr : NULL, -1);
	}
	return rc;
}

ssize_t send(int sockfd, const void *buf, size_t len, int flags) {
	pthread_once(&resolve_once, resolve_all);
	resolve_env();
	ssize_t n = real_send(sockfd, buf, len, flags);
	if (!warden_in_hook && n > 0) {
		emit("send", sockfd, NULL, (long long)n);
	}
	return n;
}

ssize_t sendto(int sockfd, const void *buf, size_t len, int flags, const struct sockaddr *dest_addr, socklen_t addrlen) {
	pthread_once(&resolve_once, resolve_all);
	resolve_env();
	ssize_t n = real_sendto(sockfd, buf, len, flags, dest_addr, addrlen);
	if (!warden_in_hook && n > 0) {
		char astr[128];
		format_addr(dest_addr, addrlen, astr, sizeof(astr));
		emit("sendto", sockfd, astr[0] ? astr : NULL, (long long)n);
	}
	return n;
}

ssize_t recv(int sockfd, void *buf, size_t len, int flags) {
	pthread_once(&resolve_once, resolve_all);
	resolve_env();
	ssize_t n = real_recv(sockfd, buf, len, flags);
	if (!warden_in_hook && n > 0) {
		emit("recv", sockfd, NULL, (long long)n);
	}
	return n;
}

ssize_t recvfrom(int sockfd, void *buf, size_t len, int flags, struct sockaddr *src_addr, socklen_t *addrlen) {
	pthread_once(&resolve_once, resolve_all);
	resolve_env();
	ssize_t n = real_recvfrom(sockfd, buf, len, flags, src_addr, addrlen);
	if (!warden_in_hook && n > 0) {
		char astr[128];
		if (src_addr != NULL && addrlen != NULL) {
			format_addr(src_addr, *addrlen, astr, sizeof(astr));
		} else {
			astr[0] = '\0';
		}
		emit("recvfrom", sockfd, astr[0] ? astr : NULL, (long long)n);
	}
	return n;
}

int close(int fd) {
	pthread_once(&resolve_once, resolve_all);
	resolve_env();
	if (!warden_in_hook) {
		emit("close", fd, NULL, -1);
	}
	return real_close(fd);
}

// path_is_overlay_target reports whether path equals OVERLAY_TARGET exactly,
// or ends with "/" + OVERLAY_TARGET. OVERLAY_TARGET may itself have multiple
// segments (e.g. "config/.mcp.json"), so this is a suffix match on the whole
// target, not a basename compare.
static int path_is_overlay_target(const char *path) {
	if (overlay_target == NULL || overlay_target[0] == '\0' || path == NULL) {
		return 0;
	}
	if (strcmp(path, overlay_target) == 0) {
		return 1;
	}
	size_t path_len = strlen(path);
	size_t target_len = strlen(overlay_target);
	if (path_len <= target_len) {
		return 0;
	}
	const char *tail = path + (path_len - target_len);
	return tail[-1] == '/' && strcmp(tail, overlay_target) == 0;
}

int open(const char *path, int flags, ...) {
	pthread_once(&resolve_once, resolve_all);
	resolve_env();

	mode_t mode = 0;
	if (flags & O_CREAT) {
		va_list ap;
		va_start(ap, flags);
		mode = (mode_t)va_arg(ap, int);
		va_end(ap);
	}

	const char *target = path;
	if (overlay_path != NULL && overlay_path[0] != '\0' && path_is_overlay_target(path)) {
		target = overlay_path;
	}
	return real_open(target, flags, mode);
}

int openat(int dirfd, const char *path, int flags, ...) {
	pthread_once(&resolve_once, resolve_all);
	resolve_env();

	mode_t mode = 0;
	if (flags & O_CREAT) {
		va_list ap;
		va_start(ap, flags);
		mode = (mode_t)va_arg(ap, int);
		va_end(ap);
	}

	const char *target = path;
	if (overlay_path != NULL && overlay_path[0] != '\0' && path_is_overlay_target(path)) {
		target = overlay_path;
	}
	return real_openat(dirfd, target, flags, mode);
}
*/
import "C"

// main is required for a c-shared buildmode package but is never invoked;
// the dynamic loader calls into the C functions above directly.
func main() {}
